package algorithm

import "testing"

func TestFixedWindow(t *testing.T) {
	tests := []struct {
		name          string
		current       int64
		ttl           int64
		limit         int64
		window        int64
		wantAllow     bool
		wantRemaining int64
		wantResetIn   int64
	}{
		{
			name:          "键不存在应该允许并按完整窗口重置",
			current:       0,
			ttl:           -2,
			limit:         5,
			window:        60,
			wantAllow:     true,
			wantRemaining: 5,
			wantResetIn:   60,
		},
		{
			name:          "在限制内应该允许",
			current:       3,
			ttl:           42,
			limit:         5,
			window:        60,
			wantAllow:     true,
			wantRemaining: 2,
			wantResetIn:   42,
		},
		{
			name:          "达到限制应该拒绝",
			current:       5,
			ttl:           10,
			limit:         5,
			window:        60,
			wantAllow:     false,
			wantRemaining: 0,
			wantResetIn:   10,
		},
		{
			name:          "超过限制剩余配额不为负",
			current:       9,
			ttl:           10,
			limit:         5,
			window:        60,
			wantAllow:     false,
			wantRemaining: 0,
			wantResetIn:   10,
		},
		{
			name:          "没有过期时间时按完整窗口重置",
			current:       1,
			ttl:           -1,
			limit:         5,
			window:        3600,
			wantAllow:     true,
			wantRemaining: 4,
			wantResetIn:   3600,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FixedWindow(tt.current, tt.ttl, tt.limit, tt.window)

			if got.Allowed != tt.wantAllow {
				t.Errorf("Allowed = %v, want %v", got.Allowed, tt.wantAllow)
			}
			if got.Current != tt.current {
				t.Errorf("Current = %v, want %v", got.Current, tt.current)
			}
			if got.Limit != tt.limit {
				t.Errorf("Limit = %v, want %v", got.Limit, tt.limit)
			}
			if got.Remaining != tt.wantRemaining {
				t.Errorf("Remaining = %v, want %v", got.Remaining, tt.wantRemaining)
			}
			if got.ResetIn != tt.wantResetIn {
				t.Errorf("ResetIn = %v, want %v", got.ResetIn, tt.wantResetIn)
			}
		})
	}
}

func TestFixedWindow_AllowedMatchesLimit(t *testing.T) {
	// allowed = current < limit，remaining = max(0, limit-current)
	for limit := int64(1); limit <= 10; limit++ {
		for current := int64(0); current <= 12; current++ {
			got := FixedWindow(current, 30, limit, 60)
			if got.Allowed != (current < limit) {
				t.Fatalf("limit=%d current=%d Allowed = %v", limit, current, got.Allowed)
			}
			want := limit - current
			if want < 0 {
				want = 0
			}
			if got.Remaining != want {
				t.Fatalf("limit=%d current=%d Remaining = %v, want %v", limit, current, got.Remaining, want)
			}
		}
	}
}

func TestNeedsExpire(t *testing.T) {
	tests := []struct {
		name string
		ttl  int64
		want bool
	}{
		{"刚创建的键", -1, true},
		{"不存在的键", -2, false},
		{"已有过期时间", 59, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NeedsExpire(tt.ttl); got != tt.want {
				t.Errorf("NeedsExpire(%d) = %v, want %v", tt.ttl, got, tt.want)
			}
		})
	}
}
