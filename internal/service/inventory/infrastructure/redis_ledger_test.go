package infrastructure

import (
	"strings"
	"testing"
)

func TestReservationKeysShareComponentHashTag(t *testing.T) {
	// 库存键和预占键必须带同一个 {componentID} 哈希标签，
	// 否则 Cluster 下跨键脚本会被拒绝。
	sk := stockKey("STM32F407")
	rk := reservationKey("STM32F407", "tok-1")

	tag := "{STM32F407}"
	if !strings.Contains(sk, tag) {
		t.Errorf("stock key %q missing hash tag %q", sk, tag)
	}
	if !strings.Contains(rk, tag) {
		t.Errorf("reservation key %q missing hash tag %q", rk, tag)
	}
}

func TestSplitReservationID(t *testing.T) {
	comp, token, err := splitReservationID("STM32F407:3f8a-uuid")
	if err != nil {
		t.Fatal(err)
	}
	if comp != "STM32F407" || token != "3f8a-uuid" {
		t.Errorf("got comp=%q token=%q", comp, token)
	}

	for _, bad := range []string{"", "no-separator", ":leading", "trailing:"} {
		if _, _, err := splitReservationID(bad); err == nil {
			t.Errorf("expected error for %q", bad)
		}
	}
}
