package pda

import (
	"bytes"
	"errors"
	"testing"

	"oraculo/internal/domain"
)

func TestFindProgramAddress_KnownVectors(t *testing.T) {
	d := NewDeriver(DefaultProgramID)

	tests := []struct {
		name     string
		derive   func() (domain.Address, uint8)
		wantAddr string
		wantBump uint8
	}{
		{
			name:     "config",
			derive:   d.Config,
			wantAddr: "7ejEwS8aMYxCXkkxruXfTugruStsXdMULutP8KGaXFii",
			wantBump: 255,
		},
		{
			name:     "treasury",
			derive:   d.Treasury,
			wantAddr: "8coGoUPRp2K5RbZxNP4MPQVXw9T1bDB5ZZhyT61BcQKG",
			wantBump: 254,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			addr, bump := tt.derive()
			if addr.String() != tt.wantAddr {
				t.Errorf("address = %s, want %s", addr, tt.wantAddr)
			}
			if bump != tt.wantBump {
				t.Errorf("bump = %d, want %d", bump, tt.wantBump)
			}
		})
	}
}

func TestTokenAccount_KnownVector(t *testing.T) {
	owner := domain.MustParseAddress("9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM")
	mint := domain.MustParseAddress("EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v")

	got := TokenAccount(owner, mint)
	want := "FGETo8T8wMcN2wCjav8VK6eh3dLk63evNDPxzLSJra8B"
	if got.String() != want {
		t.Errorf("TokenAccount = %s, want %s", got, want)
	}
}

func TestFindProgramAddress_OffCurveAndReproducible(t *testing.T) {
	creator := domain.MustParseAddress("9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM")
	seeds := [][]byte{[]byte("market"), creator[:], I64Seed(1_700_000_000)}

	addr, bump, err := FindProgramAddress(seeds, DefaultProgramID)
	if err != nil {
		t.Fatalf("FindProgramAddress: %v", err)
	}
	if IsOnCurve(addr[:]) {
		t.Error("derived address is on curve")
	}

	again, err := CreateProgramAddress(append(seeds, []byte{bump}), DefaultProgramID)
	if err != nil {
		t.Fatalf("CreateProgramAddress with found bump: %v", err)
	}
	if again != addr {
		t.Errorf("CreateProgramAddress = %s, want %s", again, addr)
	}
}

func TestDeriver_DistinctSeedsDistinctAddresses(t *testing.T) {
	d := NewDeriver(DefaultProgramID)
	creator := domain.MustParseAddress("9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM")

	m1, _ := d.Market(creator, 100)
	m2, _ := d.Market(creator, 101)
	if m1 == m2 {
		t.Fatal("markets created at different times share an address")
	}

	p0, _ := d.Proposal(m1, 0)
	p1, _ := d.Proposal(m1, 1)
	if p0 == p1 {
		t.Error("proposal indexes share an address")
	}

	yes, _ := d.YesMint(m1)
	no, _ := d.NoMint(m1)
	if yes == no {
		t.Error("yes and no mints share an address")
	}

	stake, _ := d.StakeEscrow(p0)
	votes, _ := d.VoteEscrow(p0)
	if stake == votes {
		t.Error("stake and vote escrow share an address")
	}

	other := NewDeriver(TokenProgramID)
	mOther, _ := other.Market(creator, 100)
	if mOther == m1 {
		t.Error("different program IDs derive the same market")
	}
}

func TestCreateProgramAddress_Errors(t *testing.T) {
	long := bytes.Repeat([]byte{1}, MaxSeedLength+1)
	if _, err := CreateProgramAddress([][]byte{long}, DefaultProgramID); !errors.Is(err, ErrSeedTooLong) {
		t.Errorf("long seed: err = %v, want ErrSeedTooLong", err)
	}

	many := make([][]byte, MaxSeeds)
	for i := range many {
		many[i] = []byte{byte(i)}
	}
	if _, _, err := FindProgramAddress(many, DefaultProgramID); !errors.Is(err, ErrTooManySeeds) {
		t.Errorf("too many seeds: err = %v, want ErrTooManySeeds", err)
	}
}

func TestIsOnCurve(t *testing.T) {
	// A wallet public key is a curve point.
	wallet := domain.MustParseAddress("9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM")
	if !IsOnCurve(wallet[:]) {
		t.Error("wallet key reported off curve")
	}
	if IsOnCurve([]byte{1, 2, 3}) {
		t.Error("short input reported on curve")
	}
}

func TestSeedEncoding(t *testing.T) {
	if got := I64Seed(1); !bytes.Equal(got, []byte{1, 0, 0, 0, 0, 0, 0, 0}) {
		t.Errorf("I64Seed(1) = %v", got)
	}
	if got := U32Seed(258); !bytes.Equal(got, []byte{2, 1, 0, 0}) {
		t.Errorf("U32Seed(258) = %v", got)
	}
}
