package auth

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/skratchdot/open-golang/open"
)

// Callbacks lets a frontend drive the interactive parts of a login flow.
// Zero-value fields fall back to stdin/stdout behaviour.
type Callbacks struct {
	// OnAuthURL is invoked with the URL the user must visit. The default
	// opens the system browser and prints the URL.
	OnAuthURL func(url string)

	// Prompt asks the user for a pasted value (redirect URL or code).
	Prompt func(label string) (string, error)

	// Progress reports flow status lines.
	Progress func(msg string)
}

func (c *Callbacks) authURL(url string) {
	if c != nil && c.OnAuthURL != nil {
		c.OnAuthURL(url)
		return
	}
	fmt.Printf("Open this URL in your browser to continue:\n\n%s\n\n", url)
	_ = open.Run(url)
}

func (c *Callbacks) prompt(label string) (string, error) {
	if c != nil && c.Prompt != nil {
		return c.Prompt(label)
	}
	fmt.Printf("%s: ", label)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func (c *Callbacks) progress(msg string) {
	if c != nil && c.Progress != nil {
		c.Progress(msg)
		return
	}
	fmt.Println(msg)
}
