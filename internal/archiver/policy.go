package archiver

import "github.com/snapback/snapback/internal/compress"

// policy names one of the four blob-ingestion strategies, spec.md
// §4.6.3.
type policy int

const (
	policyDefault policy = iota
	policyReadAll
	policyHashOnce
	policyCopyHash
)

func (p policy) String() string {
	switch p {
	case policyReadAll:
		return "read_all"
	case policyHashOnce:
		return "hash_once"
	case policyCopyHash:
		return "copy_hash"
	default:
		return "default"
	}
}

// selectPolicy implements the decision table of spec.md §4.6.3,
// evaluated top-down, first match wins. querySize is called only when
// the table actually needs a size-existence answer (the hash_once
// candidacy check), keeping the "no BQM yields once hash_once is
// chosen" contract of §4.6.6 intact: the size lookup always happens
// before a policy is settled on, never after.
func (t *ingestTask) selectPolicy(lastChance bool, size int64, preHash string, canCow bool, method compress.Method) (policy, error) {
	if lastChance {
		return policyCopyHash, nil
	}

	if preHash != "" {
		return policyDefault, nil
	}

	if !canCow && size <= t.env.cfg.ReadAllThreshold {
		return policyReadAll, nil
	}

	if !canCow && size > t.env.cfg.HashOnceThreshold {
		exists, err := t.querySize(size)
		if err != nil {
			return policyDefault, err
		}
		if !exists {
			return policyHashOnce, nil
		}
		return policyDefault, nil
	}

	return policyDefault, nil
}
