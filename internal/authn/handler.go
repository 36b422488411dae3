package authn

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// AuthHandler is the client-side capability set invoked as the server drives
// the authentication exchange.
type AuthHandler interface {
	// OnInitialization selects which of the offered methods to attempt.
	OnInitialization(init Initialization) ([]string, error)

	// OnStartMethod announces the method about to run.
	OnStartMethod(method string)

	// OnChallenge answers the method's questions, one answer per question.
	OnChallenge(challenge Challenge) ([]string, error)

	// OnVerification acknowledges out-of-band information such as host keys.
	OnVerification(verification Verification) (bool, error)

	// OnInfo receives informational notices.
	OnInfo(text string)

	// OnError observes failures; fatal errors end the exchange afterwards.
	OnError(kind ErrorKind, text string)

	// OnFinished observes terminal success.
	OnFinished()
}

// StaticKeyHandler answers every challenge question with a fixed key. It
// pairs with the server's static_key method.
type StaticKeyHandler struct {
	Key string
}

func NewStaticKeyHandler(key string) *StaticKeyHandler {
	return &StaticKeyHandler{Key: key}
}

func (h *StaticKeyHandler) OnInitialization(init Initialization) ([]string, error) {
	return init.Methods, nil
}

func (h *StaticKeyHandler) OnStartMethod(string) {}

func (h *StaticKeyHandler) OnChallenge(challenge Challenge) ([]string, error) {
	answers := make([]string, len(challenge.Questions))
	for i := range answers {
		answers[i] = h.Key
	}
	return answers, nil
}

func (h *StaticKeyHandler) OnVerification(Verification) (bool, error) { return true, nil }
func (h *StaticKeyHandler) OnInfo(string)                             {}
func (h *StaticKeyHandler) OnError(ErrorKind, string)                 {}
func (h *StaticKeyHandler) OnFinished()                               {}

// PromptHandler performs interactive question/answer over a terminal-like
// reader and writer.
type PromptHandler struct {
	In  *bufio.Reader
	Out io.Writer
}

func NewPromptHandler(in io.Reader, out io.Writer) *PromptHandler {
	return &PromptHandler{In: bufio.NewReader(in), Out: out}
}

func (h *PromptHandler) OnInitialization(init Initialization) ([]string, error) {
	return init.Methods, nil
}

func (h *PromptHandler) OnStartMethod(method string) {
	fmt.Fprintf(h.Out, "Authenticating via %s\n", method)
}

func (h *PromptHandler) OnChallenge(challenge Challenge) ([]string, error) {
	answers := make([]string, 0, len(challenge.Questions))
	for _, q := range challenge.Questions {
		if q.Text != "" {
			fmt.Fprintf(h.Out, "%s: ", q.Text)
		} else {
			fmt.Fprintf(h.Out, "%s: ", q.Label)
		}
		line, err := h.In.ReadString('\n')
		if err != nil && len(line) == 0 {
			return nil, err
		}
		answers = append(answers, strings.TrimRight(line, "\r\n"))
	}
	return answers, nil
}

func (h *PromptHandler) OnVerification(v Verification) (bool, error) {
	fmt.Fprintf(h.Out, "%s\nAccept? (y/N): ", v.Text)
	line, err := h.In.ReadString('\n')
	if err != nil && len(line) == 0 {
		return false, err
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes", nil
}

func (h *PromptHandler) OnInfo(text string) {
	fmt.Fprintln(h.Out, text)
}

func (h *PromptHandler) OnError(kind ErrorKind, text string) {
	fmt.Fprintf(h.Out, "Authentication error (%s): %s\n", kind, text)
}

func (h *PromptHandler) OnFinished() {}

// PerMethodHandler routes callbacks to a nested handler chosen by the method
// currently running. Methods with no entry fall back to the default handler.
type PerMethodHandler struct {
	Handlers map[string]AuthHandler
	Default  AuthHandler

	current AuthHandler
}

func NewPerMethodHandler(handlers map[string]AuthHandler, fallback AuthHandler) *PerMethodHandler {
	return &PerMethodHandler{Handlers: handlers, Default: fallback, current: fallback}
}

func (h *PerMethodHandler) pick(method string) AuthHandler {
	if nested, ok := h.Handlers[method]; ok {
		return nested
	}
	return h.Default
}

func (h *PerMethodHandler) OnInitialization(init Initialization) ([]string, error) {
	// Attempt only the methods we have a handler for, unless a default
	// handler accepts anything.
	if h.Default != nil {
		return init.Methods, nil
	}
	var methods []string
	for _, m := range init.Methods {
		if _, ok := h.Handlers[m]; ok {
			methods = append(methods, m)
		}
	}
	if len(methods) == 0 {
		return nil, fmt.Errorf("no supported authentication method among %v", init.Methods)
	}
	return methods, nil
}

func (h *PerMethodHandler) OnStartMethod(method string) {
	h.current = h.pick(method)
	if h.current != nil {
		h.current.OnStartMethod(method)
	}
}

func (h *PerMethodHandler) OnChallenge(challenge Challenge) ([]string, error) {
	if h.current == nil {
		return nil, fmt.Errorf("challenge received before any method started")
	}
	return h.current.OnChallenge(challenge)
}

func (h *PerMethodHandler) OnVerification(v Verification) (bool, error) {
	if h.current == nil {
		return false, fmt.Errorf("verification received before any method started")
	}
	return h.current.OnVerification(v)
}

func (h *PerMethodHandler) OnInfo(text string) {
	if h.current != nil {
		h.current.OnInfo(text)
	}
}

func (h *PerMethodHandler) OnError(kind ErrorKind, text string) {
	if h.current != nil {
		h.current.OnError(kind, text)
	}
}

func (h *PerMethodHandler) OnFinished() {
	if h.current != nil {
		h.current.OnFinished()
	}
}
