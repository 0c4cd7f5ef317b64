// Package actions defines the concrete ledger actions and registers their
// routes.
package actions

import (
	"encoding/json"
	"fmt"

	"github.com/Klingon-tech/hive-ledger-validator/internal/action"
	"github.com/Klingon-tech/hive-ledger-validator/internal/ledger"
	"github.com/Klingon-tech/hive-ledger-validator/internal/router"
)

// Action names.
const (
	NameTest               = "test"
	NameTokenTransfer      = "token_transfer"
	NameStakeTokens        = "stake_tokens"
	NameUnstakeTokens      = "unstake_tokens"
	NameUpdateValidator    = "update_validator"
	NameApproveValidator   = "approve_validator"
	NameUnapproveValidator = "unapprove_validator"
	NameValidateBlock      = "validate_block"
	NameConfigUpdate       = "config_update"
	NameUnstakeRelease     = "unstake_release"
)

// HeightTransferMemo names the activation height of memo-carrying
// transfers.
const HeightTransferMemo = "transfer_memo"

const accountPattern = `^[a-z][a-z0-9.-]{2,15}$`

type route = router.Route[*action.Handler]

// decoder adapts a typed constructor to action.Handler.New.
func decoder[P any](build func(P) action.Kind) func(json.RawMessage) (action.Kind, error) {
	return func(raw json.RawMessage) (action.Kind, error) {
		var p P
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		return build(p), nil
	}
}

func chainRoutes(l *ledger.Ledger) []route {
	return []route{
		{Name: NameTest, Handler: testHandler()},
		{Name: NameTokenTransfer, Handler: transferHandler(l, false), To: router.Config(HeightTransferMemo)},
		{Name: NameTokenTransfer, Handler: transferHandler(l, true), From: router.Config(HeightTransferMemo)},
		{Name: NameStakeTokens, Handler: stakeHandler(l)},
		{Name: NameUnstakeTokens, Handler: unstakeHandler(l)},
		{Name: NameUpdateValidator, Handler: updateValidatorHandler(l)},
		{Name: NameApproveValidator, Handler: approveHandler(l, true)},
		{Name: NameUnapproveValidator, Handler: approveHandler(l, false)},
		{Name: NameValidateBlock, Handler: validateBlockHandler(l)},
		{Name: NameConfigUpdate, Handler: configUpdateHandler(l)},
	}
}

func virtualRoutes(l *ledger.Ledger) []route {
	return []route{
		{Name: NameUnstakeRelease, Handler: unstakeReleaseHandler(l)},
	}
}

// Register builds the chain and virtual route tables and adds them to c.
// Routes are registered in a fixed order; the caller recomputes c with the
// current activation heights.
func Register(c *router.Composite[*action.Handler], l *ledger.Ledger) error {
	chain, err := buildTable(action.NamespaceChain, chainRoutes(l))
	if err != nil {
		return err
	}
	virtual, err := buildTable(action.NamespaceVirtual, virtualRoutes(l))
	if err != nil {
		return err
	}
	c.Add(chain)
	c.Add(virtual)
	return nil
}

func buildTable(namespace string, routes []route) (*router.Table[*action.Handler], error) {
	t := router.NewTable[*action.Handler](namespace)
	for _, r := range routes {
		if err := r.Handler.CheckSchema(); err != nil {
			return nil, err
		}
		if err := t.AddRoute(r); err != nil {
			return nil, fmt.Errorf("register %s/%s: %w", namespace, r.Name, err)
		}
	}
	return t, nil
}
