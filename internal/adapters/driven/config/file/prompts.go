package file

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/democracy-chain/dcindex/internal/core/ports/driven"
	"github.com/democracy-chain/dcindex/internal/logger"
)

// Ensure PromptStore implements the interface.
var _ driven.PromptStore = (*PromptStore)(nil)

// PromptStore loads prompts from user-editable files, falling back to the
// embedded defaults. A file is re-read when its modification time changes,
// so a running MCP server picks up edits.
type PromptStore struct {
	mu        sync.RWMutex
	promptDir string
	cache     map[string]cachedPrompt
	initOnce  sync.Once
	initErr   error
}

type cachedPrompt struct {
	text    string
	modTime time.Time
}

// defaultPrompts contains embedded default prompts.
// These are used when user files don't exist and as the initial content for new files.
//
//nolint:lll // Prompt content is intentionally long and should not be wrapped.
var defaultPrompts = map[string]string{
	driven.PromptGroundingSystem: `Eres un asistente que ayuda a la ciudadanía a comparar programas electorales.
Responde únicamente con la información de los extractos proporcionados; si ningún programa se ajusta, dilo claramente.
Cita cada programa por su wallet.

Termina SIEMPRE tu respuesta con una única línea, sin nada más en ella, con este formato exacto:
WALLETS=["<wallet>", "<wallet>"]
incluyendo solo las wallets de los programas que mejor se ajustan, o WALLETS=[] si ninguno lo hace.`,

	driven.PromptGroundingContext: `Un ciudadano pregunta: "%s"

Aquí tienes extractos de programas electorales agrupados por wallet:
%s
Responde de forma clara qué programas se ajustan mejor al criterio del ciudadano.`,
}

// DefaultPrompt returns the embedded default for name.
func DefaultPrompt(name string) (string, bool) {
	p, ok := defaultPrompts[name]
	return p, ok
}

// NewPromptStore creates a new file-based prompt store.
// If promptDir is empty, defaults to ~/.dcindex/prompts/.
// No I/O happens until the first Load.
func NewPromptStore(promptDir string) (*PromptStore, error) {
	if promptDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("get home directory: %w", err)
		}
		promptDir = filepath.Join(home, ".dcindex", "prompts")
	}

	return &PromptStore{
		promptDir: promptDir,
		cache:     make(map[string]cachedPrompt),
	}, nil
}

// Load returns the prompt for name. The first call writes the default files.
// A missing, unreadable or malformed file yields the embedded default.
func (s *PromptStore) Load(name string) (string, error) {
	s.initOnce.Do(s.initialise)

	def, hasDefault := defaultPrompts[name]
	fallback := func(err error) (string, error) {
		if hasDefault {
			return def, nil
		}
		return "", fmt.Errorf("load prompt %q: %w", name, err)
	}
	if s.initErr != nil {
		return fallback(s.initErr)
	}

	path := filepath.Join(s.promptDir, name+".txt")
	info, err := os.Stat(path)
	if err != nil {
		return fallback(err)
	}

	s.mu.RLock()
	cached, ok := s.cache[name]
	s.mu.RUnlock()
	if ok && cached.modTime.Equal(info.ModTime()) {
		return cached.text, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fallback(err)
	}
	text := strings.TrimSpace(string(data))
	if err := checkPrompt(name, text); err != nil {
		logger.Warn("prompt %s: %v, using the built-in default", path, err)
		if !hasDefault {
			return "", err
		}
		text = def
	}

	s.mu.Lock()
	s.cache[name] = cachedPrompt{text: text, modTime: info.ModTime()}
	s.mu.Unlock()
	return text, nil
}

// Dir returns the prompt directory path.
func (s *PromptStore) Dir() string {
	return s.promptDir
}

// checkPrompt rejects edits that would break answer composition or the
// wallet marker parsing.
func checkPrompt(name, text string) error {
	if text == "" {
		return errors.New("empty prompt")
	}
	switch name {
	case driven.PromptGroundingContext:
		if n := strings.Count(text, "%s"); n != 2 {
			return fmt.Errorf("want 2 %%s placeholders, found %d", n)
		}
	case driven.PromptGroundingSystem:
		if !strings.Contains(text, "WALLETS=") {
			return errors.New("missing the WALLETS=[...] instruction")
		}
	}
	return nil
}

// initialise creates the prompt directory, the default files and a README.
func (s *PromptStore) initialise() {
	if err := os.MkdirAll(s.promptDir, 0o700); err != nil {
		s.initErr = fmt.Errorf("create prompt directory: %w", err)
		return
	}

	for name, content := range defaultPrompts {
		path := filepath.Join(s.promptDir, name+".txt")
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			if err := os.WriteFile(path, []byte(content+"\n"), 0o600); err != nil {
				s.initErr = fmt.Errorf("create default prompt %q: %w", name, err)
				return
			}
		}
	}

	if err := s.createReadme(); err != nil {
		s.initErr = err
	}
}

// createReadme writes a README file explaining the prompts directory.
func (s *PromptStore) createReadme() error {
	path := filepath.Join(s.promptDir, "README.md")
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		return nil
	}

	content := `# dcindex Prompts

This directory contains the prompts used to answer questions from indexed
electoral programmes.

## Files

- ` + "`grounding_system.txt`" + ` - Fixed system instruction; must ask for the WALLETS=[...] line
- ` + "`grounding_context.txt`" + ` - Wraps the question and the retrieved excerpts

## Customisation

Edit any file to customise the answers. Edits are picked up on the next
question, including by a running MCP server. A file that is empty or breaks
the rules below is ignored in favour of the built-in prompt.

## Format Placeholders

` + "`grounding_context.txt`" + ` uses two Go fmt ` + "`%s`" + ` placeholders: the question
first, then the excerpts grouped by wallet.

The reply parser only recovers wallets from a line of the form
` + "`WALLETS=[\"0xAB\", \"0xCD\"]`" + `; keep that instruction in the system prompt.
`
	return os.WriteFile(path, []byte(content), 0o600)
}
