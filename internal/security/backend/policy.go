package backend

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/terraconstructs/gridsec/internal/security"
)

type policyFile struct {
	Users  map[string]policyUser `json:"users"`
	Grants []policyGrant         `json:"grants"`
}

type policyUser struct {
	Secret string   `json:"secret"`
	Roles  []string `json:"roles"`
}

type policyGrant struct {
	Subject  string `json:"subject"`
	Resource string `json:"resource"`
	Action   string `json:"action"`
	Filter   string `json:"filter,omitempty"`
}

// LoadPolicyFile reads users and grants from a JSON policy file.
func LoadPolicyFile(path string) (map[string]User, []Grant, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read policy file: %w", err)
	}
	return ParsePolicy(data)
}

// ParsePolicy decodes the JSON policy document into backend options material.
func ParsePolicy(data []byte) (map[string]User, []Grant, error) {
	var pf policyFile
	if err := json.Unmarshal(data, &pf); err != nil {
		return nil, nil, fmt.Errorf("parse policy: %w", err)
	}

	users := make(map[string]User, len(pf.Users))
	for login, u := range pf.Users {
		if login == "" {
			return nil, nil, fmt.Errorf("policy user with empty login")
		}
		users[login] = User{Secret: u.Secret, Roles: append([]string(nil), u.Roles...)}
	}

	grants := make([]Grant, 0, len(pf.Grants))
	for i, g := range pf.Grants {
		if g.Subject == "" || g.Resource == "" || g.Action == "" {
			return nil, nil, fmt.Errorf("policy grant %d: subject, resource and action are required", i)
		}
		grants = append(grants, Grant{
			Subject:  g.Subject,
			Resource: g.Resource,
			Action:   security.Permission(g.Action),
			Filter:   g.Filter,
		})
	}

	return users, grants, nil
}
