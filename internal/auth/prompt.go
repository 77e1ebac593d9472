package auth

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/term"
)

// Prompter asks the user for login details. Secrets are read without echo
// when the input is a terminal.
type Prompter struct {
	in       *bufio.Reader
	out      io.Writer
	terminal int
	// readPassword is swapped out in tests.
	readPassword func(fd int) ([]byte, error)
}

func NewPrompter(in io.Reader, out io.Writer) *Prompter {
	p := &Prompter{
		in:           bufio.NewReader(in),
		out:          out,
		terminal:     -1,
		readPassword: term.ReadPassword,
	}
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		p.terminal = int(f.Fd())
	}
	return p
}

// Line prints prompt and reads one trimmed line. def is returned for an
// empty answer.
func (p *Prompter) Line(prompt, def string) (string, error) {
	if def != "" {
		prompt = fmt.Sprintf("%s [%s]", prompt, def)
	}
	if _, err := fmt.Fprint(p.out, prompt+": "); err != nil {
		return "", err
	}
	line, err := p.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", errors.Wrap(err, "read input")
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return def, nil
	}
	return line, nil
}

// Secret reads a value without echoing it.
func (p *Prompter) Secret(prompt string) (string, error) {
	if p.terminal < 0 {
		return p.Line(prompt, "")
	}
	if _, err := fmt.Fprint(p.out, prompt+": "); err != nil {
		return "", err
	}
	secret, err := p.readPassword(p.terminal)
	fmt.Fprintln(p.out)
	if err != nil {
		return "", errors.Wrap(err, "read secret")
	}
	return strings.TrimSpace(string(secret)), nil
}
