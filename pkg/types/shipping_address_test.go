package types

import "testing"

func TestShippingAddressValueScan(t *testing.T) {
	addr := ShippingAddress{Name: "Rahim", Phone: "01700000000", Address: "House 4, Road 2", City: "Dhaka", PostalCode: "1207"}

	v, err := addr.Value()
	if err != nil {
		t.Fatalf("value: %v", err)
	}

	var out ShippingAddress
	if err := out.Scan(v); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if out != addr {
		t.Fatalf("expected %+v got %+v", addr, out)
	}

	if err := out.Scan(nil); err != nil || out != (ShippingAddress{}) {
		t.Fatalf("nil scan should reset, got %+v err=%v", out, err)
	}
	if err := out.Scan(42); err == nil {
		t.Fatal("expected unsupported type error")
	}
}

func TestShippingAddressLines(t *testing.T) {
	addr := ShippingAddress{Name: " Karim ", Address: "12 Lake Rd", City: "Sylhet", PostalCode: "3100", Phone: "018"}.Normalize()
	lines := addr.Lines()
	want := []string{"Karim", "12 Lake Rd", "Sylhet 3100", "Phone: 018"}
	if len(lines) != len(want) {
		t.Fatalf("expected %v got %v", want, lines)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Fatalf("line %d: expected %q got %q", i, want[i], lines[i])
		}
	}
}
