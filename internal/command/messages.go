package command

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/radstorm/storm-server-go/internal/config"
)

// Messages is a translation table keyed by message id. Values may contain
// positional placeholders {0}, {1}, ...
type Messages map[string]string

// NewMessages returns the configured table with defaults filled in.
func NewMessages(configured map[string]string) Messages {
	m := make(Messages, len(config.DefaultMessages)+len(configured))
	for k, v := range config.DefaultMessages {
		m[k] = v
	}
	for k, v := range configured {
		m[k] = v
	}
	return m
}

// Translate looks key up and substitutes args. Unknown keys are returned as is.
func (m Messages) Translate(key string, args ...any) string {
	msg, ok := m[key]
	if !ok {
		return key
	}
	if len(args) == 0 {
		return msg
	}
	pairs := make([]string, 0, len(args)*2)
	for i, arg := range args {
		pairs = append(pairs, "{"+strconv.Itoa(i)+"}", fmt.Sprint(arg))
	}
	return strings.NewReplacer(pairs...).Replace(msg)
}
