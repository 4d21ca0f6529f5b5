package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/Picocrypt/zxcvbn-go"
	"golang.org/x/term"
)

var (
	ErrPasswordMismatch = errors.New("passwords do not match")
	ErrPasswordEmpty    = errors.New("password cannot be empty")
)

// WeakPasswordScore is the zxcvbn score below which lock warns.
const WeakPasswordScore = 3

// stdinFd returns the descriptor of in when it is a terminal.
func stdinFd(in io.Reader) (int, bool) {
	f, ok := in.(*os.File)
	if !ok {
		return 0, false
	}
	fd := int(f.Fd())
	return fd, term.IsTerminal(fd)
}

// readPasswordSecure reads a password from in without echo.
// Falls back to a buffered line read if in is not a terminal.
func readPasswordSecure(in *bufio.Reader, raw io.Reader, errOut io.Writer, prompt string) (string, error) {
	fmt.Fprint(errOut, prompt)

	fd, isTerm := stdinFd(raw)
	if !isTerm {
		// stdin is piped; read normally
		return readLine(in)
	}

	// Terminal mode: disable echo
	pw, err := term.ReadPassword(fd)
	fmt.Fprintln(errOut) // newline after hidden input
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return string(pw), nil
}

// ReadPasswordInteractive prompts for a password on in.
// If confirm is true, asks for confirmation (for locking).
func ReadPasswordInteractive(in io.Reader, errOut io.Writer, confirm bool) (string, error) {
	br := bufio.NewReader(in)

	password, err := readPasswordSecure(br, in, errOut, "Password: ")
	if err != nil {
		return "", err
	}

	if password == "" {
		return "", ErrPasswordEmpty
	}

	if confirm {
		again, err := readPasswordSecure(br, in, errOut, "Confirm password: ")
		if err != nil {
			return "", err
		}
		if password != again {
			return "", ErrPasswordMismatch
		}
	}

	return password, nil
}

// ReadPasswordFromStdin reads one line from in (for piped input with -P).
func ReadPasswordFromStdin(in io.Reader) (string, error) {
	pw, err := readLine(bufio.NewReader(in))
	if err != nil {
		return "", err
	}
	if pw == "" {
		return "", ErrPasswordEmpty
	}
	return pw, nil
}

func readLine(r *bufio.Reader) (string, error) {
	pw, err := r.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && pw != "") {
		return "", fmt.Errorf("reading password: %w", err)
	}
	pw = strings.TrimSuffix(pw, "\n")
	pw = strings.TrimSuffix(pw, "\r")
	return pw, nil
}

// PasswordScore rates password from 0 (weakest) to 4 with zxcvbn.
func PasswordScore(password string) int {
	return zxcvbn.PasswordStrength(password, nil).Score
}
