package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Account is the immutable per-account value object injected into the
// caption and enrichment collaborators: language, branding, and the blog
// domains editorial lookups are restricted to.
type Account struct {
	ID          string   `yaml:"id" json:"id"`
	Name        string   `yaml:"name" json:"name"`
	Language    string   `yaml:"language" json:"language"` // "en" or "de"
	Attribution string   `yaml:"attribution" json:"attribution"`
	BlogDomains []string `yaml:"blog_domains" json:"blog_domains"`
	BlogURLs    []string `yaml:"blog_urls" json:"blog_urls"`
	Hashtags    []string `yaml:"hashtags" json:"hashtags"`
}

type accountsFile struct {
	Accounts []Account `yaml:"accounts"`
}

// AccountRegistry materializes account definitions loaded from a YAML file.
type AccountRegistry struct {
	mu       sync.RWMutex
	accounts []Account
	idx      map[string]Account
}

// LoadAccounts loads the account registry from a YAML file.
func LoadAccounts(path string) (*AccountRegistry, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("accounts file path is empty")
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read accounts file: %w", err)
	}

	var file accountsFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("decode accounts file: %w", err)
	}
	if len(file.Accounts) == 0 {
		return nil, errors.New("accounts file contains no accounts entries")
	}

	reg := &AccountRegistry{
		accounts: make([]Account, len(file.Accounts)),
		idx:      make(map[string]Account, len(file.Accounts)),
	}

	for i := range file.Accounts {
		acct := sanitizeAccount(file.Accounts[i])
		if err := validateAccount(acct); err != nil {
			return nil, fmt.Errorf("accounts[%d]: %w", i, err)
		}
		if _, exists := reg.idx[acct.ID]; exists {
			return nil, fmt.Errorf("duplicate account id %q", acct.ID)
		}
		reg.accounts[i] = acct
		reg.idx[acct.ID] = acct
	}

	return reg, nil
}

func sanitizeAccount(a Account) Account {
	a.ID = strings.ToLower(strings.TrimSpace(a.ID))
	a.Name = strings.TrimSpace(a.Name)
	a.Language = strings.ToLower(strings.TrimSpace(a.Language))
	if a.Language == "" {
		a.Language = "en"
	}
	a.Attribution = strings.TrimSpace(a.Attribution)

	domains := make([]string, 0, len(a.BlogDomains))
	for _, d := range a.BlogDomains {
		if d = strings.ToLower(strings.TrimSpace(d)); d != "" {
			domains = append(domains, d)
		}
	}
	a.BlogDomains = domains
	return a
}

func validateAccount(a Account) error {
	if a.ID == "" {
		return errors.New("id is required")
	}
	if a.Language != "en" && a.Language != "de" {
		return fmt.Errorf("unsupported language %q for account %q", a.Language, a.ID)
	}
	return nil
}

// ByID returns the account entry for the given id, if loaded.
func (r *AccountRegistry) ByID(id string) (Account, bool) {
	if r == nil {
		return Account{}, false
	}

	id = strings.ToLower(strings.TrimSpace(id))
	if id == "" {
		return Account{}, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	acct, ok := r.idx[id]
	return acct, ok
}

// All returns a copy of the configured accounts.
func (r *AccountRegistry) All() []Account {
	if r == nil {
		return nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Account, len(r.accounts))
	copy(out, r.accounts)
	return out
}

// PrimaryDomain returns the account's first configured blog domain.
func (a Account) PrimaryDomain() string {
	if len(a.BlogDomains) == 0 {
		return ""
	}
	return a.BlogDomains[0]
}
