package assembly

import (
	"strings"
	"testing"

	"github.com/grailbio/testutil/assert"
)

const testSAM = `@HD	VN:1.6	SO:unsorted
@SQ	SN:draft	LN:8
r1	0	draft	1	60	8M	*	0	0	ACGTACGT	IIIIIIII
r2	4	*	0	0	*	*	0	0	ACGTACGT	IIIIIIII
r3	16	draft	1	60	8M	*	0	0	ACGTACGT	IIIIIIII
r4	256	draft	1	0	8M	*	0	0	ACGTACGT	IIIIIIII
`

func TestCountMapped(t *testing.T) {
	n, err := CountMapped(strings.NewReader(testSAM))
	assert.NoError(t, err)
	assert.EQ(t, n, 2)

	n, err = CountMapped(strings.NewReader("@HD\tVN:1.6\n"))
	assert.NoError(t, err)
	assert.EQ(t, n, 0)
}
