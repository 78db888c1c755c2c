package clientcrypto

import (
	"bytes"
	"crypto/subtle"
	"encoding/base64"
	"strings"
	"testing"
)

func TestRand_LengthUniq(t *testing.T) {
	t.Parallel()
	const n = 48
	a, err := Rand(n)
	if err != nil {
		t.Fatalf("Rand: %v", err)
	}
	if len(a) != n {
		t.Fatalf("len=%d, want=%d", len(a), n)
	}
	b, _ := Rand(n)
	if bytes.Equal(a, b) {
		t.Fatalf("Rand produced equal slices")
	}
}

func TestDeriveKey_DeterministicAndSaltDependent(t *testing.T) {
	t.Parallel()
	pw := []byte("secret-pass")
	s1 := []byte("salt-1")
	s2 := []byte("salt-2")
	k1 := DeriveKey(pw, s1)
	k2 := DeriveKey(pw, s1)
	if subtle.ConstantTimeCompare(k1, k2) != 1 {
		t.Fatalf("DeriveKey not deterministic")
	}
	if subtle.ConstantTimeCompare(k1, DeriveKey(pw, s2)) != 0 {
		t.Fatalf("DeriveKey must change with salt")
	}
	if subtle.ConstantTimeCompare(k1, DeriveKey([]byte("other"), s1)) != 0 {
		t.Fatalf("DeriveKey must change with secret")
	}
}

func TestXChaCha_Roundtrip(t *testing.T) {
	t.Parallel()
	pt := []byte("top secret payload \x00\x01\x02")
	ct, err := XChaCha{}.Seal(pt, "k1")
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if !strings.HasPrefix(ct, XChaChaPrefix) {
		t.Fatalf("missing prefix: %s", ct)
	}
	got, err := XChaCha{}.Open(ct, "k1")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !bytes.Equal(got, pt) {
		t.Fatalf("roundtrip mismatch")
	}
	if _, err := (XChaCha{}).Open(ct, "k2"); err == nil {
		t.Fatalf("Open with wrong secret must fail")
	}
	if _, err := (XChaCha{}).Open(XChaChaPrefix+"AAAA", "k1"); err == nil {
		t.Fatalf("Open of truncated input must fail")
	}
}

func TestOpenSSLAES_Roundtrip(t *testing.T) {
	t.Parallel()
	for _, pt := range [][]byte{{}, []byte("0123456789abcdef"), []byte("不对齐的明文")} {
		ct, err := OpenSSLAES{}.Seal(pt, "pass")
		if err != nil {
			t.Fatalf("Seal: %v", err)
		}
		if !strings.HasPrefix(ct, OpenSSLPrefix) {
			t.Fatalf("not OpenSSL format: %s", ct)
		}
		got, err := OpenSSLAES{}.Open(ct, "pass")
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		if !bytes.Equal(got, pt) {
			t.Fatalf("roundtrip mismatch: %q vs %q", got, pt)
		}
	}
}

func TestOpenSSLAES_SaltedPerCall(t *testing.T) {
	t.Parallel()
	a, _ := OpenSSLAES{}.Seal([]byte("same"), "pass")
	b, _ := OpenSSLAES{}.Seal([]byte("same"), "pass")
	if a == b {
		t.Fatalf("two seals of the same plaintext must differ")
	}
}

// Produced by: openssl enc -aes-256-cbc -md md5 -pass pass:'Abc123!@#' -base64 -A
const opensslVector = "U2FsdGVkX1/u330e15fmuwum3CCYUXuGSAhuxH1IeF0PC2eUdSAW4fJNMyeKp6UCbGLlcmikJPgcKkWDluxHBo3H74Q0xMA+9CCJY2DoXtQ="

func TestOpenSSLAES_OpensExternalCiphertext(t *testing.T) {
	t.Parallel()
	got, err := OpenSSLAES{}.Open(opensslVector, "Abc123!@#")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	want := `{"id":"legacy1","date":"2025-01-02","validPeriod":"24小时"}`
	if string(got) != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestOpenSSLAES_RejectsMalformed(t *testing.T) {
	t.Parallel()
	if _, err := (OpenSSLAES{}).Open("not base64!", "k"); err == nil {
		t.Fatalf("want error for bad base64")
	}
	short := base64.StdEncoding.EncodeToString([]byte("Salted__12345678"))
	if _, err := (OpenSSLAES{}).Open(short, "k"); err == nil {
		t.Fatalf("want error for missing body")
	}
	noMagic := base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{1}, 32))
	if _, err := (OpenSSLAES{}).Open(noMagic, "k"); err == nil {
		t.Fatalf("want error for missing Salted__ header")
	}
}

func TestPadUnpad(t *testing.T) {
	t.Parallel()
	for n := 0; n <= 33; n++ {
		in := bytes.Repeat([]byte{'x'}, n)
		p := pad(in)
		if len(p)%16 != 0 || len(p) <= n {
			t.Fatalf("n=%d padded len=%d", n, len(p))
		}
		out, err := unpad(p)
		if err != nil || !bytes.Equal(out, in) {
			t.Fatalf("n=%d unpad mismatch: %v", n, err)
		}
	}
	if _, err := unpad([]byte{1, 2, 3, 0}); err == nil {
		t.Fatalf("zero pad byte must be rejected")
	}
	if _, err := unpad(append(bytes.Repeat([]byte{'x'}, 14), 3, 2)); err == nil {
		t.Fatalf("inconsistent padding must be rejected")
	}
}
