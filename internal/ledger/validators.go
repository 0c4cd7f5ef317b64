package ledger

import (
	"encoding/json"
	"sort"

	"github.com/Klingon-tech/hive-ledger-validator/internal/action"
	"github.com/Klingon-tech/hive-ledger-validator/internal/storage"
)

// Validator is a registered block validator.
type Validator struct {
	Account       string `json:"account_name"`
	IsActive      bool   `json:"is_active"`
	PostURL       string `json:"post_url,omitempty"`
	RewardAccount string `json:"reward_account,omitempty"`
	TotalVotes    int64  `json:"total_votes"`
	MissedBlocks  int64  `json:"missed_blocks"`
	LastValidated uint64 `json:"last_validated,omitempty"`
}

// Payee returns the account rewards are paid to.
func (v Validator) Payee() string {
	if v.RewardAccount != "" {
		return v.RewardAccount
	}
	return v.Account
}

// Vote is one account's approval of a validator, weighted by the voter's
// staked balance.
type Vote struct {
	Voter     string `json:"voter"`
	Validator string `json:"validator"`
	Weight    int64  `json:"vote_weight"`
}

// ValidatorUpdate is the registration data an account submits for itself.
type ValidatorUpdate struct {
	IsActive      bool
	PostURL       string
	RewardAccount string
}

// Validators keeps the validator registry and the votes behind it.
type Validators struct {
	balances *Balances
	tokens   Tokens
	config   *ConfigStore
}

// Get returns a validator by account. The bool is false for unknown accounts.
func (s *Validators) Get(r storage.Reader, account string) (Validator, bool, error) {
	var v Validator
	found, err := storage.ReadTable(r, prefixValidators).GetJSON(account, &v)
	return v, found, err
}

func (s *Validators) put(tx storage.Txn, v Validator) error {
	return storage.NewTable(tx, prefixValidators).PutJSON(v.Account, v)
}

// Update registers account as a validator or changes its registration.
func (s *Validators) Update(tx storage.Txn, account string, u ValidatorUpdate) ([]action.EventLog, error) {
	v, found, err := s.Get(tx, account)
	if err != nil {
		return nil, err
	}
	kind := action.EventUpdate
	if !found {
		v = Validator{Account: account}
		kind = action.EventInsert
	}
	v.IsActive = u.IsActive
	v.PostURL = u.PostURL
	v.RewardAccount = u.RewardAccount
	if err := s.put(tx, v); err != nil {
		return nil, err
	}
	return []action.EventLog{action.Event(kind, TableValidators, v)}, nil
}

func voteKey(voter, validator string) string {
	return voter + "/" + validator
}

// VotesBy returns the votes cast by voter, ordered by validator.
func (s *Validators) VotesBy(r storage.Reader, voter string) ([]Vote, error) {
	var out []Vote
	err := storage.ReadTable(r, prefixVotes).ForEach([]byte(voter+"/"), func(key, value []byte) error {
		var v Vote
		if err := json.Unmarshal(value, &v); err != nil {
			return err
		}
		out = append(out, v)
		return nil
	})
	return out, err
}

// Approve adds voter's staked weight to validator.
func (s *Validators) Approve(tx storage.Txn, voter, validator string) ([]action.EventLog, error) {
	v, found, err := s.Get(tx, validator)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, action.Invalid(action.CodeNotFound, "validator %s not found", validator)
	}
	if !v.IsActive {
		return nil, action.Invalid(action.CodeInvalidState, "validator %s is not active", validator)
	}
	votes, err := s.VotesBy(tx, voter)
	if err != nil {
		return nil, err
	}
	for _, existing := range votes {
		if existing.Validator == validator {
			return nil, action.Invalid(action.CodeInvalidState, "%s already approved %s", voter, validator)
		}
	}
	if maxVotes := s.config.Validator().MaxVotes; maxVotes > 0 && len(votes) >= maxVotes {
		return nil, action.Invalid(action.CodeInvalidState, "%s already has the maximum of %d votes", voter, maxVotes)
	}

	weight, err := s.balances.Get(tx, voter, s.tokens.Staked)
	if err != nil {
		return nil, err
	}
	vote := Vote{Voter: voter, Validator: validator, Weight: weight}
	if err := storage.NewTable(tx, prefixVotes).PutJSON(voteKey(voter, validator), vote); err != nil {
		return nil, err
	}
	v.TotalVotes += weight
	if err := s.put(tx, v); err != nil {
		return nil, err
	}
	return []action.EventLog{
		action.Event(action.EventInsert, TableVotes, vote),
		action.Event(action.EventUpdate, TableValidators, v),
	}, nil
}

// Unapprove removes voter's vote for validator.
func (s *Validators) Unapprove(tx storage.Txn, voter, validator string) ([]action.EventLog, error) {
	votes := storage.NewTable(tx, prefixVotes)
	var vote Vote
	found, err := votes.GetJSON(voteKey(voter, validator), &vote)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, action.Invalid(action.CodeNotFound, "%s has not approved %s", voter, validator)
	}
	if err := votes.Delete([]byte(voteKey(voter, validator))); err != nil {
		return nil, err
	}
	events := []action.EventLog{action.Event(action.EventDelete, TableVotes, vote)}

	v, found, err := s.Get(tx, validator)
	if err != nil {
		return nil, err
	}
	if found {
		v.TotalVotes -= vote.Weight
		if err := s.put(tx, v); err != nil {
			return nil, err
		}
		events = append(events, action.Event(action.EventUpdate, TableValidators, v))
	}
	return events, nil
}

// AdjustVoter changes the weight of every vote cast by voter by delta.
func (s *Validators) AdjustVoter(tx storage.Txn, voter string, delta int64) ([]action.EventLog, error) {
	if delta == 0 {
		return nil, nil
	}
	votes, err := s.VotesBy(tx, voter)
	if err != nil {
		return nil, err
	}
	tbl := storage.NewTable(tx, prefixVotes)
	var events []action.EventLog
	for _, vote := range votes {
		vote.Weight += delta
		if err := tbl.PutJSON(voteKey(vote.Voter, vote.Validator), vote); err != nil {
			return nil, err
		}
		v, found, err := s.Get(tx, vote.Validator)
		if err != nil {
			return nil, err
		}
		events = append(events, action.Event(action.EventUpdate, TableVotes, vote))
		if !found {
			continue
		}
		v.TotalVotes += delta
		if err := s.put(tx, v); err != nil {
			return nil, err
		}
		events = append(events, action.Event(action.EventUpdate, TableValidators, v))
	}
	return events, nil
}

// Active returns the active validators with positive vote weight, ordered
// by weight descending and account ascending.
func (s *Validators) Active(r storage.Reader) ([]Validator, error) {
	all, err := s.List(r)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, v := range all {
		if v.IsActive && v.TotalVotes > 0 {
			out = append(out, v)
		}
	}
	SortByWeight(out)
	return out, nil
}

// List returns every registered validator ordered by account.
func (s *Validators) List(r storage.Reader) ([]Validator, error) {
	var out []Validator
	err := storage.ReadTable(r, prefixValidators).ForEach(nil, func(key, value []byte) error {
		var v Validator
		if err := json.Unmarshal(value, &v); err != nil {
			return err
		}
		out = append(out, v)
		return nil
	})
	return out, err
}

// SortByWeight orders validators by vote weight descending, then account.
func SortByWeight(vs []Validator) {
	sort.SliceStable(vs, func(i, j int) bool {
		if vs[i].TotalVotes != vs[j].TotalVotes {
			return vs[i].TotalVotes > vs[j].TotalVotes
		}
		return vs[i].Account < vs[j].Account
	})
}

// MarkValidated records that account validated the block at height.
func (s *Validators) MarkValidated(tx storage.Txn, account string, height uint64) ([]action.EventLog, error) {
	v, found, err := s.Get(tx, account)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, action.Invalid(action.CodeNotFound, "validator %s not found", account)
	}
	if height > v.LastValidated {
		v.LastValidated = height
	}
	if err := s.put(tx, v); err != nil {
		return nil, err
	}
	return []action.EventLog{action.Event(action.EventUpdate, TableValidators, v)}, nil
}
