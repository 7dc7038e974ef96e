package xkop

import "testing"

func TestParseRecord(t *testing.T) {
	tests := []struct {
		in      string
		want    Record
		wantErr bool
	}{
		{in: "1=1", want: Record{Index: 1, Value: 1}},
		{in: " 20 = 0x1234 ", want: Record{Index: 20, Value: 0x1234}},
		{in: "0xFE=65535", want: Record{Index: 0xFE, Value: 0xFFFF}},
		{in: "256=1", wantErr: true},
		{in: "1=65536", wantErr: true},
		{in: "1", wantErr: true},
		{in: "a=1", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseRecord(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseRecord(%q) err = %v", tt.in, err)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("ParseRecord(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
	}
}

func TestParseRecordsStopsAtFirstError(t *testing.T) {
	if _, err := ParseRecords([]string{"1=1", "bad"}); err == nil {
		t.Fatal("expected error")
	}
	got, err := ParseRecords([]string{"1=1", "2=0"})
	if err != nil || len(got) != 2 {
		t.Fatalf("ParseRecords = %v, %v", got, err)
	}
}
