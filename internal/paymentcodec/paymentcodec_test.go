package paymentcodec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validHeader() Header {
	return Header{
		X402Version: 1,
		Scheme:      "exact",
		Network:     "base-sepolia",
		Payload: Payload{
			Signature: "0x" + repeat("a", 130),
			Authorization: Authorization{
				From:        "0x" + repeat("1", 40),
				To:          "0x" + repeat("2", 40),
				Value:       "100",
				ValidAfter:  "1000",
				ValidBefore: "2000",
				Nonce:       "0x" + repeat("3", 64),
			},
		},
	}
}

func repeat(s string, n int) string {
	out := make([]byte, 0, n)
	for len(out) < n {
		out = append(out, s...)
	}
	return string(out[:n])
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	h := validHeader()
	encoded, err := Encode(h)
	require.NoError(t, err)

	decoded, err := Decode(encoded)
	require.NoError(t, err)
	assert.Equal(t, h, *decoded)
}

func TestDecodeNotBase64(t *testing.T) {
	_, err := Decode("not-valid-base64!!!")
	require.Error(t, err)
	var mErr *MalformedPaymentHeaderError
	require.ErrorAs(t, err, &mErr)
	assert.Equal(t, ReasonNotBase64, mErr.Reason)
}

func TestDecodeNotJSON(t *testing.T) {
	_, err := Decode("bm90IGpzb24=") // base64("not json")
	require.Error(t, err)
	var mErr *MalformedPaymentHeaderError
	require.ErrorAs(t, err, &mErr)
	assert.Equal(t, ReasonNotJSON, mErr.Reason)
}

func TestDecodeShapeViolationBadAddress(t *testing.T) {
	h := validHeader()
	h.Payload.Authorization.From = "not-an-address"
	encoded, err := Encode(h)
	require.NoError(t, err)

	_, err = Decode(encoded)
	require.Error(t, err)
	var mErr *MalformedPaymentHeaderError
	require.ErrorAs(t, err, &mErr)
	assert.Equal(t, ReasonShapeViolation, mErr.Reason)
}

func TestDecodeBadSignatureFormat(t *testing.T) {
	h := validHeader()
	h.Payload.Signature = "0xdeadbeef"
	encoded, err := Encode(h)
	require.NoError(t, err)

	_, err = Decode(encoded)
	require.Error(t, err)
	var mErr *MalformedPaymentHeaderError
	require.ErrorAs(t, err, &mErr)
	assert.Equal(t, ReasonBadSignatureFormat, mErr.Reason)
}

func TestDecodeUnsupportedScheme(t *testing.T) {
	h := validHeader()
	h.Scheme = "upto"
	encoded, err := Encode(h)
	require.NoError(t, err)

	_, err = Decode(encoded)
	require.Error(t, err)
}

func TestDecodeValueTooLarge(t *testing.T) {
	h := validHeader()
	h.Payload.Authorization.Value = "100000000000000000000" // > 10^18
	encoded, err := Encode(h)
	require.NoError(t, err)

	_, err = Decode(encoded)
	require.Error(t, err)
}
