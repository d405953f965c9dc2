package safety

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeywordClassifier(t *testing.T) {
	c := NewKeywordClassifier()

	cases := []struct {
		name  string
		texts []string
		want  []Category
	}{
		{"control board rewire", []string{"I want to open the control board and rewire it myself"},
			[]Category{HighVoltage, InternalElectronics}},
		{"gas smell", []string{"I smell GAS near the stove"}, []Category{Gas}},
		{"known issue text", []string{"it beeps", "contact service; internal electronics repair required"},
			[]Category{InternalElectronics}},
		{"door ajar", []string{"E01 error on my fridge", "door ajar", "check door seal"}, nil},
		{"warranty", []string{"what's the warranty"}, nil},
		{"substring only", []string{"Las Vegas trip", "gasket"}, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, c.Classify(tc.texts...))
		})
	}
}
