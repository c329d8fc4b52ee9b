package scale_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-pdv/internal/scale"
)

func TestDecodeEAN13Label(t *testing.T) {
	res := scale.Decode("2" + "00050" + "0" + "00500" + "9")
	require.True(t, res.IsWeighable)
	require.Equal(t, int64(50), res.ProductID)
	require.True(t, decimal.RequireFromString("5.00").Equal(res.EmbeddedAmount))
}

func TestDecodeShort12Label(t *testing.T) {
	res := scale.Decode("  200123012347 ")
	require.True(t, res.IsWeighable)
	require.Equal(t, int64(123), res.ProductID)
	require.Equal(t, "12.34", res.EmbeddedAmount.StringFixed(2))
}

func TestDecodeRejectsNonScaleCodes(t *testing.T) {
	cases := map[string]string{
		"empty":        "",
		"blank":        "   ",
		"wrong prefix": "7891234567895",
		"letters":      "20005A0005009",
		"too short":    "20005000500",
		"too long":     "20005000500912",
		"negative":     "-200500050091",
		"text":         "arroz",
		"invalid utf8": "2\xff\xfe00500050091",
		"utf8 digits":  "2０００５０000500",
		"nul bytes":    "2000500\x00050091",
		"inner space":  "200050 0005009",
	}
	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			res := scale.Decode(input)
			require.False(t, res.IsWeighable)
			require.Zero(t, res.ProductID)
			require.True(t, res.EmbeddedAmount.IsZero())
		})
	}
}

func FuzzDecode(f *testing.F) {
	for _, seed := range []string{"2000500005009", "200123012347", "", "2", "2\xff\xfe", "29999999999999", "arroz"} {
		f.Add(seed)
	}
	f.Fuzz(func(t *testing.T, raw string) {
		for _, layout := range []scale.Layout{scale.Auto, scale.EAN13, scale.Short12} {
			res := scale.Decoder{Layout: layout}.Decode(raw)
			if !res.IsWeighable {
				require.Zero(t, res.ProductID)
				require.True(t, res.EmbeddedAmount.IsZero())
				continue
			}
			require.GreaterOrEqual(t, res.ProductID, int64(0))
			require.LessOrEqual(t, res.ProductID, int64(99999))
			require.False(t, res.EmbeddedAmount.IsNegative())
			require.True(t, res.EmbeddedAmount.LessThanOrEqual(decimal.RequireFromString("999.99")))
		}
	})
}

func TestDecoderLayoutRestrictsLength(t *testing.T) {
	ean := scale.Decoder{Layout: scale.EAN13}
	require.False(t, ean.Decode("200123012347").IsWeighable)
	require.True(t, ean.Decode("2000500005009").IsWeighable)

	short := scale.Decoder{Layout: scale.Short12}
	require.False(t, short.Decode("2000500005009").IsWeighable)
	require.True(t, short.Decode("200123012347").IsWeighable)
}

func TestParseLayout(t *testing.T) {
	require.Equal(t, scale.EAN13, scale.ParseLayout("13"))
	require.Equal(t, scale.Short12, scale.ParseLayout(" short12 "))
	require.Equal(t, scale.Auto, scale.ParseLayout("whatever"))
	require.Equal(t, "auto", scale.Auto.String())
}
