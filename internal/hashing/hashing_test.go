package hashing

import (
	"strings"
	"testing"
)

func TestKnownDigests(t *testing.T) {
	tests := []struct {
		algo Algorithm
		want string
	}{
		{SHA2_256, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"},
		{SHA2_512, "ddaf35a193617abacc417349ae20413112e6fa4e89a97ea20a9eeee64b55d39a2192992a274fc1a836ba3c23a3feebbd454d4423643ce80e2a9ac94fa54ca49f"},
		{SHA3_256, "3a985da74fe225b2045c172d6bd390bd855f086e3e9d525b46bfe24511431532"},
		{BLAKE2s, "508c5e8c327c14e2e1a72ba34eeb452f37458b209ed63a294d999b4c86675982"},
		{BLAKE2b, "ba80a53f981c4d0d6a2797b69f12f6e94c212f14685ac4b74b12bb6fdbffa2d17d87c5392aab792dc252d5de4533cc9518d38aa8dbf1925ab92386edd4009923"},
	}
	for _, tt := range tests {
		t.Run(string(tt.algo), func(t *testing.T) {
			if got := tt.algo.Hex([]byte("abc")); got != tt.want {
				t.Errorf("Hex(abc) = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestDigestSizes(t *testing.T) {
	sizes := map[Algorithm]int{
		SHA2_256: 32,
		SHA2_512: 64,
		SHA3_224: 28,
		SHA3_256: 32,
		SHA3_384: 48,
		SHA3_512: 64,
		BLAKE2s:  32,
		BLAKE2b:  64,
	}
	for algo, want := range sizes {
		if got := len(algo.Sum([]byte{1, 2, 3})); got != want {
			t.Errorf("%s digest length = %d, want %d", algo, got, want)
		}
		if got := algo.Size(); got != want {
			t.Errorf("%s Size() = %d, want %d", algo, got, want)
		}
	}
	if len(Supported()) != len(sizes) {
		t.Errorf("Supported() = %v, want %d algorithms", Supported(), len(sizes))
	}
}

func TestParse(t *testing.T) {
	for _, name := range Supported() {
		a, err := Parse(name)
		if err != nil {
			t.Errorf("Parse(%q): %v", name, err)
		}
		if a.String() != name {
			t.Errorf("Parse(%q) = %q", name, a)
		}
	}

	_, err := Parse("whirlpool")
	if err == nil || !strings.Contains(err.Error(), "whirlpool") {
		t.Errorf("Parse(whirlpool) error = %v, want unknown algorithm", err)
	}
}

func TestNewPanicsOnUnknown(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("New did not panic for an unknown algorithm")
		}
	}()
	Algorithm("md5").New()
}
