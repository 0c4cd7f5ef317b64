package block

import "testing"

// FuzzDecode tests that arbitrary input does not panic when decoded as a
// block or when its operations are inspected.
func FuzzDecode(f *testing.F) {
	f.Add([]byte(testBlockJSON))
	f.Add([]byte(`{}`))
	f.Add([]byte(`null`))
	f.Add([]byte(`{"block_id":"000003e8b1c2d3e4f5a6b7c8d9e0f1a2b3c4d5e6","timestamp":"2024-01-02T03:04:05","transactions":[{"operations":[{"type":"custom_json_operation","value":[]}]}]}`))

	f.Fuzz(func(t *testing.T, data []byte) {
		blk, err := Decode(1000, data)
		if err != nil {
			return
		}
		for _, tx := range blk.Transactions {
			for _, op := range tx.Operations {
				if cj, ok := op.CustomJSON(); ok {
					cj.Account()
				}
				op.NewAccount()
			}
		}
		blk.Rand().Uint64()
	})
}
