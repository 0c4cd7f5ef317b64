package rpc

import (
	"errors"
	"fmt"

	"github.com/Klingon-tech/hive-ledger-validator/internal/ledger"
	"github.com/Klingon-tech/hive-ledger-validator/internal/storage"
)

// ── Ledger endpoints ────────────────────────────────────────────────────

func (s *Server) handleStatus(_ *Request) (any, *Error) {
	res := &StatusResult{}
	if last := s.deps.Ledger.Blocks.Last(); last != nil {
		res.LastBlock = last.BlockNum
		res.LastHash = last.Hash.String()
		res.LastValidator = last.Validator
	}
	if s.deps.Head != nil {
		res.HeadBlock = s.deps.Head.Height()
		if res.HeadBlock > res.LastBlock {
			res.Lag = res.HeadBlock - res.LastBlock
		}
	}
	if s.deps.P2P != nil {
		res.Peers = s.deps.P2P.PeerCount()
	}
	return res, nil
}

func (s *Server) handleGetBlock(req *Request) (any, *Error) {
	var params HeightParam
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	res := &BlockResult{}
	var notFound bool
	rpcErr := s.view(func(r storage.Reader) error {
		rec, err := s.deps.Ledger.Blocks.Get(r, params.Height)
		if errors.Is(err, storage.ErrNotFound) {
			notFound = true
			return nil
		}
		if err != nil {
			return err
		}
		res.BlockRecord = rec
		res.Transactions, err = s.deps.Ledger.Blocks.Transactions(r, params.Height)
		return err
	})
	if rpcErr != nil {
		return nil, rpcErr
	}
	if notFound {
		return nil, &Error{Code: CodeNotFound, Message: fmt.Sprintf("block %d not processed", params.Height)}
	}
	return res, nil
}

func (s *Server) handleRoute(req *Request) (any, *Error) {
	var params RouteParam
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	if params.Action == "" {
		return nil, &Error{Code: CodeInvalidParams, Message: "action required"}
	}
	height := params.Height
	if height == 0 {
		height = 1
		if last := s.deps.Ledger.Blocks.Last(); last != nil {
			height = last.BlockNum + 1
		}
	}
	h, ok, err := s.deps.Routes.Route(height, params.Action)
	if err != nil {
		return nil, &Error{Code: CodeInternalError, Message: err.Error()}
	}
	res := &RouteResult{Height: height, Action: params.Action, Active: ok}
	if ok {
		res.RequireActive = h.RequireActive
		res.Schema = h.Schema != ""
	}
	return res, nil
}

func (s *Server) handleGetBalance(req *Request) (any, *Error) {
	var params PlayerParam
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	if params.Player == "" {
		return nil, &Error{Code: CodeInvalidParams, Message: "player required"}
	}
	res := &BalanceResult{Player: params.Player}
	rpcErr := s.view(func(r storage.Reader) error {
		var err error
		if res.Balances, err = s.deps.Ledger.Balances.List(r, params.Player); err != nil {
			return err
		}
		res.Unstaking, err = s.deps.Ledger.Staking.Pending(r, params.Player)
		return err
	})
	if rpcErr != nil {
		return nil, rpcErr
	}
	if res.Balances == nil {
		res.Balances = []ledger.Balance{}
	}
	return res, nil
}

func (s *Server) handleGetValidators(req *Request) (any, *Error) {
	var params ValidatorsParam
	if req.Params != nil {
		if err := parseParams(req, &params); err != nil {
			return nil, err
		}
	}
	res := &ValidatorsResult{}
	rpcErr := s.view(func(r storage.Reader) error {
		var err error
		if params.ActiveOnly {
			res.Validators, err = s.deps.Ledger.Validators.Active(r)
		} else {
			res.Validators, err = s.deps.Ledger.Validators.List(r)
		}
		return err
	})
	if rpcErr != nil {
		return nil, rpcErr
	}
	if res.Validators == nil {
		res.Validators = []ledger.Validator{}
	}
	res.Count = len(res.Validators)
	return res, nil
}

// ── Network endpoints ───────────────────────────────────────────────────

func (s *Server) handleNetGetPeerInfo(_ *Request) (any, *Error) {
	if s.deps.P2P == nil {
		return &PeerInfoResult{Count: 0, Peers: []PeerInfo{}}, nil
	}
	peers := s.deps.P2P.PeerList()
	infos := make([]PeerInfo, len(peers))
	for i, p := range peers {
		infos[i] = PeerInfo{
			ID:          p.ID.String(),
			Source:      p.Source,
			ConnectedAt: p.ConnectedAt.UTC().Format("2006-01-02T15:04:05Z"),
		}
	}
	return &PeerInfoResult{Count: len(infos), Peers: infos}, nil
}

func (s *Server) handleNetGetNodeInfo(_ *Request) (any, *Error) {
	if s.deps.P2P == nil {
		return &NodeInfoResult{ID: "", Addrs: []string{}}, nil
	}
	return &NodeInfoResult{
		ID:    s.deps.P2P.ID().String(),
		Addrs: s.deps.P2P.Addrs(),
	}, nil
}

func (s *Server) handleNetGetBanList(_ *Request) (any, *Error) {
	if s.deps.P2P == nil {
		return &BanListResult{Count: 0, Bans: []BanEntry{}}, nil
	}
	records := s.deps.P2P.Bans.BanList()
	entries := make([]BanEntry, len(records))
	for i, r := range records {
		entries[i] = BanEntry{
			ID:        r.ID,
			Reason:    r.Reason,
			Score:     r.Score,
			BannedAt:  r.BannedAt,
			ExpiresAt: r.ExpiresAt,
		}
	}
	return &BanListResult{Count: len(entries), Bans: entries}, nil
}
