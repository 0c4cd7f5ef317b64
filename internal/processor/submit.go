package processor

import (
	"context"
	"encoding/json"

	"github.com/Klingon-tech/hive-ledger-validator/internal/log"
	"github.com/Klingon-tech/hive-ledger-validator/internal/metrics"
	"github.com/Klingon-tech/hive-ledger-validator/internal/retry"
)

type validatePayload struct {
	Action string         `json:"action"`
	Params validateParams `json:"params"`
}

type validateParams struct {
	BlockNum uint64 `json:"block_num"`
	Hash     string `json:"hash"`
}

// maybeSubmit posts the validation transaction in the background when this
// node was chosen for a block recent enough to matter.
func (p *Processor) maybeSubmit(res *Result, head uint64) {
	if p.submitter == nil || p.opts.Account == "" || res.Validator != p.opts.Account {
		return
	}
	maxAge := p.ledger.Config.Validator().MaxBlockAge
	if head > res.Height && head-res.Height > maxAge {
		log.Processor.Debug().Uint64("height", res.Height).Uint64("head", head).Msg("Chosen for an old block, not submitting")
		return
	}

	payload, err := json.Marshal(validatePayload{
		Action: "validate_block",
		Params: validateParams{BlockNum: res.Height, Hash: res.Hash.String()},
	})
	if err != nil {
		log.Processor.Error().Err(err).Msg("Encode validation payload")
		return
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		err := retry.Do(p.ctx, p.opts.Submit, log.Processor, "submit validation", func(ctx context.Context) error {
			return p.submitter.Submit(ctx, payload)
		})
		if err != nil {
			metrics.Submission("failed")
			log.Processor.Error().Err(err).Uint64("height", res.Height).Msg("Validation submission failed")
			return
		}
		metrics.Submission("ok")
		log.Processor.Info().Uint64("height", res.Height).Str("hash", res.Hash.Short()).Msg("Validation submitted")
	}()
}
