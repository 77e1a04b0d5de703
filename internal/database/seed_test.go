package database

import (
	"strings"
	"testing"
)

func TestParseOffices(t *testing.T) {
	offices, err := ParseOffices([]byte(`
offices:
  - name: Bangalore HQ
    address: MG Road, Bengaluru
    latitude: 12.9716
    longitude: 77.5946
    radius_meters: 100
`))
	if err != nil {
		t.Fatalf("ParseOffices: %v", err)
	}
	if len(offices) != 1 {
		t.Fatalf("offices = %+v", offices)
	}
	o := offices[0]
	if o.Name != "Bangalore HQ" || o.Address == nil || *o.Address != "MG Road, Bengaluru" || o.RadiusMeters != 100 {
		t.Fatalf("office = %+v", o)
	}
	if !o.IsActive {
		t.Fatal("a lone office should default to active")
	}
}

func TestParseOfficesRejects(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{
			name: "missing name",
			doc:  "offices:\n  - latitude: 1\n    longitude: 2\n    radius_meters: 10\n",
			want: "name is required",
		},
		{
			name: "zero radius",
			doc:  "offices:\n  - name: A\n    latitude: 1\n    longitude: 2\n",
			want: `office "A"`,
		},
		{
			name: "two active",
			doc: "offices:\n" +
				"  - {name: A, latitude: 1, longitude: 2, radius_meters: 10, active: true}\n" +
				"  - {name: B, latitude: 3, longitude: 4, radius_meters: 10, active: true}\n",
			want: "at most one",
		},
		{
			name: "bad yaml",
			doc:  "offices: [",
			want: "parse offices",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseOffices([]byte(tt.doc))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestParseOfficesKeepsInactive(t *testing.T) {
	offices, err := ParseOffices([]byte(`
offices:
  - {name: A, latitude: 1, longitude: 2, radius_meters: 10}
  - {name: B, latitude: 3, longitude: 4, radius_meters: 10, active: true}
`))
	if err != nil {
		t.Fatalf("ParseOffices: %v", err)
	}
	if offices[0].IsActive || !offices[1].IsActive {
		t.Fatalf("offices = %+v", offices)
	}
}
