package reftable

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"testing"

	"github.com/cockroachdb/datadriven"
	"github.com/stretchr/testify/require"
)

// TestVarintDataDriven exercises putVarint/getVarint against a checked-in
// table of values and their expected encoded length, in the teacher's own
// datadriven style: one command per test case, diffed against a
// recorded "----" block instead of inline assertions (spec.md's varint
// encoding is exactly the kind of exhaustively-enumerable, table-shaped
// behavior datadriven.RunTest fits).
func TestVarintDataDriven(t *testing.T) {
	datadriven.RunTest(t, "testdata/varint", func(t *testing.T, d *datadriven.TestData) string {
		switch d.Cmd {
		case "encode":
			var buf bytes.Buffer
			for _, line := range strings.Split(strings.TrimSpace(d.Input), "\n") {
				v, err := strconv.ParseUint(strings.TrimSpace(line), 10, 64)
				require.NoError(t, err)

				enc := make([]byte, maxVarintLen)
				n := putVarint(enc, v)
				require.Equal(t, varintLen(v), n)

				got, consumed, err := getVarint(enc, n)
				require.NoError(t, err)
				require.Equal(t, n, consumed)

				fmt.Fprintf(&buf, "%d -> len=%d roundtrip=%d\n", v, n, got)
			}
			return buf.String()
		default:
			t.Fatalf("unknown command %q", d.Cmd)
			return ""
		}
	})
}
