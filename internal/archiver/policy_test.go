package archiver

import (
	"testing"

	"github.com/snapback/snapback/internal/compress"
	"github.com/snapback/snapback/internal/data"
)

func newPolicyTestTask(readAll, hashOnce int64, sizeExists map[int64]bool) *ingestTask {
	return &ingestTask{
		env: &taskEnv{
			cfg: effectiveConfig{
				ReadAllThreshold:  readAll,
				HashOnceThreshold: hashOnce,
			},
			blobBySize: sizeExists,
			blobByHash: map[string]*data.Blob{},
		},
	}
}

func TestSelectPolicyLastChanceWins(t *testing.T) {
	tk := newPolicyTestTask(8*1024, 10*1024*1024, map[int64]bool{})

	p, err := tk.selectPolicy(true, 1, "somehash", false, compress.Plain)
	if err != nil {
		t.Fatalf("selectPolicy: %v", err)
	}
	if p != policyCopyHash {
		t.Errorf("selectPolicy(lastChance=true) = %v, want copy_hash", p)
	}
}

func TestSelectPolicyPreHashUsesDefault(t *testing.T) {
	tk := newPolicyTestTask(8*1024, 10*1024*1024, map[int64]bool{})

	p, err := tk.selectPolicy(false, 20*1024*1024, "prehash", false, compress.Plain)
	if err != nil {
		t.Fatalf("selectPolicy: %v", err)
	}
	if p != policyDefault {
		t.Errorf("selectPolicy(preHash set) = %v, want default", p)
	}
}

func TestSelectPolicySmallFileReadAll(t *testing.T) {
	tk := newPolicyTestTask(8*1024, 10*1024*1024, map[int64]bool{})

	p, err := tk.selectPolicy(false, 100, "", false, compress.Plain)
	if err != nil {
		t.Fatalf("selectPolicy: %v", err)
	}
	if p != policyReadAll {
		t.Errorf("selectPolicy(small file) = %v, want read_all", p)
	}
}

func TestSelectPolicyLargeNewFileHashOnce(t *testing.T) {
	size := int64(20 * 1024 * 1024)
	tk := newPolicyTestTask(8*1024, 10*1024*1024, map[int64]bool{size: false})

	p, err := tk.selectPolicy(false, size, "", false, compress.Plain)
	if err != nil {
		t.Fatalf("selectPolicy: %v", err)
	}
	if p != policyHashOnce {
		t.Errorf("selectPolicy(large, size unseen) = %v, want hash_once", p)
	}
}

func TestSelectPolicyLargeExistingSizeFallsBackToDefault(t *testing.T) {
	size := int64(20 * 1024 * 1024)
	tk := newPolicyTestTask(8*1024, 10*1024*1024, map[int64]bool{size: true})

	p, err := tk.selectPolicy(false, size, "", false, compress.Plain)
	if err != nil {
		t.Fatalf("selectPolicy: %v", err)
	}
	if p != policyDefault {
		t.Errorf("selectPolicy(large, size already seen) = %v, want default", p)
	}
}

func TestSelectPolicyCanCowSkipsReadAllAndHashOnce(t *testing.T) {
	tk := newPolicyTestTask(8*1024, 10*1024*1024, map[int64]bool{})

	// Small file, but reflink-capable: must not take read_all, since
	// the reflink fast path only applies from the default policy.
	p, err := tk.selectPolicy(false, 100, "", true, compress.Plain)
	if err != nil {
		t.Fatalf("selectPolicy: %v", err)
	}
	if p != policyDefault {
		t.Errorf("selectPolicy(small file, canCow) = %v, want default", p)
	}

	size := int64(20 * 1024 * 1024)
	p, err = tk.selectPolicy(false, size, "", true, compress.Plain)
	if err != nil {
		t.Fatalf("selectPolicy: %v", err)
	}
	if p != policyDefault {
		t.Errorf("selectPolicy(large file, canCow) = %v, want default", p)
	}
}

func TestSelectPolicyMidSizeFallsBackToDefault(t *testing.T) {
	tk := newPolicyTestTask(8*1024, 10*1024*1024, map[int64]bool{})

	p, err := tk.selectPolicy(false, 1024*1024, "", false, compress.Plain)
	if err != nil {
		t.Fatalf("selectPolicy: %v", err)
	}
	if p != policyDefault {
		t.Errorf("selectPolicy(mid-size file) = %v, want default", p)
	}
}
