package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/dmitrijs2005/docsync/internal/client/models"
)

// readPassword is swapped out in tests so no terminal is needed.
var readPassword = term.ReadPassword

// ask prints prompt and returns one trimmed line. An unterminated last line
// still counts as an answer.
func (a *App) ask(prompt string) (string, error) {
	return askLine(a.reader, a.out, prompt)
}

func askLine(r *bufio.Reader, w io.Writer, prompt string) (string, error) {
	fmt.Fprintf(w, "%s\n> ", prompt)
	line, err := r.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// askPassword reads a password from stdin without echo. Callers wipe the
// result with common.WipeByteArray.
func (a *App) askPassword() ([]byte, error) {
	fmt.Fprint(a.out, "Password: ")
	pw, err := readPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(a.out)
	if err != nil {
		return nil, fmt.Errorf("read password: %w", err)
	}
	return pw, nil
}

// askText collects lines up to the first empty one and joins them.
func (a *App) askText(prompt string) string {
	fmt.Fprintf(a.out, "%s (empty line ends)\n", prompt)
	return strings.TrimSpace(strings.Join(readBlock(a.reader), "\n"))
}

// askMetadata collects name=value lines up to the first empty one.
func (a *App) askMetadata() ([]models.Metadata, error) {
	fmt.Fprintln(a.out, "Metadata as name=value (empty line ends)")
	return models.MetadataFromString(readBlock(a.reader))
}

// readBlock returns the lines before the first empty line or EOF. Only
// line terminators are stripped.
func readBlock(r *bufio.Reader) []string {
	var lines []string
	for {
		line, err := r.ReadString('\n')
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			return lines
		}
		lines = append(lines, line)
		if err != nil {
			return lines
		}
	}
}
