package commission

import "testing"

func TestTierBrackets(t *testing.T) {
	cases := []struct {
		completed int
		want      string
	}{
		{0, "rookie"},
		{9, "rookie"},
		{10, "regular"},
		{49, "regular"},
		{50, "pro"},
		{199, "pro"},
		{200, "elite"},
		{10000, "elite"},
	}
	for _, c := range cases {
		if got := TierFor(c.completed).Name; got != c.want {
			t.Errorf("TierFor(%d) = %q, want %q", c.completed, got, c.want)
		}
	}
}

func TestFeeRoundsDown(t *testing.T) {
	// 10% of 1000 cents.
	if got := Fee(1000, 1000); got != 100 {
		t.Errorf("Fee(1000, 1000) = %d, want 100", got)
	}
	// 7% of 999 cents is 69.93 — must floor to 69, never round up.
	if got := Fee(999, 700); got != 69 {
		t.Errorf("Fee(999, 700) = %d, want 69", got)
	}
	// Fee plus remainder always reconstructs the price.
	for _, price := range []int64{1, 3, 99, 1000, 12345, 999999} {
		for _, bps := range []int64{500, 700, 1000, 1500} {
			fee := Fee(price, bps)
			if fee+(price-fee) != price {
				t.Fatalf("price %d bps %d: fee %d does not reconstruct price", price, bps, fee)
			}
			if fee < 0 || fee > price {
				t.Fatalf("price %d bps %d: fee %d out of range", price, bps, fee)
			}
		}
	}
}
