package shell

import (
	"context"

	"github.com/pkg/errors"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/remotecommand"
)

// KubeAttacher execs into the pod through the Kubernetes API, for the local backend.
type KubeAttacher struct {
	Config    *rest.Config
	Client    kubernetes.Interface
	Namespace string
	Stdio     Stdio
}

func (k *KubeAttacher) executor(t Target) (remotecommand.Executor, error) {
	req := k.Client.CoreV1().RESTClient().Post().
		Resource("pods").
		Namespace(k.Namespace).
		Name(t.Pod).
		SubResource("exec").
		VersionedParams(&corev1.PodExecOptions{
			Container: t.Container,
			Command:   []string{t.Command},
			Stdin:     true,
			Stdout:    true,
			Stderr:    true,
			TTY:       true,
		}, scheme.ParameterCodec)
	return remotecommand.NewSPDYExecutor(k.Config, "POST", req.URL())
}

func (k *KubeAttacher) Attach(ctx context.Context, t Target) error {
	exec, err := k.executor(t)
	if err != nil {
		return errors.Wrapf(err, "failed to create executor for pod %s", t.Pod)
	}
	restore, err := k.Stdio.raw()
	if err != nil {
		return errors.Wrap(err, "failed to set terminal to raw mode")
	}
	defer restore()

	opts := remotecommand.StreamOptions{
		Stdin:  k.Stdio.In,
		Stdout: k.Stdio.Out,
		Stderr: k.Stdio.ErrOut,
		Tty:    true,
	}
	if size, ok := k.Stdio.size(); ok {
		opts.TerminalSizeQueue = &sizeQueue{size: size}
	}
	return exec.StreamWithContext(ctx, opts)
}
