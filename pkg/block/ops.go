package block

import "encoding/json"

// Native operation type names.
const (
	OpCustomJSON                  = "custom_json"
	OpAccountCreate               = "account_create"
	OpAccountCreateWithDelegation = "account_create_with_delegation"
	OpCreateClaimedAccount        = "create_claimed_account"
)

// CustomJSON is the payload of a custom_json operation.
type CustomJSON struct {
	RequiredAuths        []string `json:"required_auths"`
	RequiredPostingAuths []string `json:"required_posting_auths"`
	ID                   string   `json:"id"`
	JSON                 string   `json:"json"`
}

// Account returns the acting account and whether active authority was used.
// Active authority wins when both lists are populated.
func (c *CustomJSON) Account() (string, bool) {
	if len(c.RequiredAuths) > 0 {
		return c.RequiredAuths[0], true
	}
	if len(c.RequiredPostingAuths) > 0 {
		return c.RequiredPostingAuths[0], false
	}
	return "", false
}

// CustomJSON decodes the operation as custom_json.
func (o Operation) CustomJSON() (*CustomJSON, bool) {
	if o.Type != OpCustomJSON {
		return nil, false
	}
	var c CustomJSON
	if err := json.Unmarshal(o.Value, &c); err != nil {
		return nil, false
	}
	return &c, true
}

// NewAccount returns the account created by an account-creation operation.
func (o Operation) NewAccount() (string, bool) {
	switch o.Type {
	case OpAccountCreate, OpAccountCreateWithDelegation, OpCreateClaimedAccount:
	default:
		return "", false
	}
	var v struct {
		NewAccountName string `json:"new_account_name"`
	}
	if err := json.Unmarshal(o.Value, &v); err != nil || v.NewAccountName == "" {
		return "", false
	}
	return v.NewAccountName, true
}
