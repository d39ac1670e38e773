package keys

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestSimpleKeyfile(t *testing.T) {
	dir := t.TempDir()

	simpleKeyfile := NewSimpleKeyfile(filepath.Join(dir, "priv_key"))

	// Try a read, should get nothing
	key, err := simpleKeyfile.ReadKey()
	if err == nil {
		t.Fatalf("ReadKey should generate an error")
	}
	if key != nil {
		t.Fatalf("key is not nil")
	}

	key, _ = GenerateECDSAKey()

	if err := simpleKeyfile.WriteKey(key); err != nil {
		t.Fatalf("err: %v", err)
	}

	nKey, err := simpleKeyfile.ReadKey()
	if err != nil {
		t.Fatalf("err: %v", err)
	}

	if nKey.D.Cmp(key.D) != 0 {
		t.Fatalf("Keys do not match")
	}

	if !reflect.DeepEqual(FromPublicKey(&nKey.PublicKey), FromPublicKey(&key.PublicKey)) {
		t.Fatalf("Public keys do not match")
	}
}

func TestFilePermissions(t *testing.T) {
	dir := t.TempDir()

	key, _ := GenerateECDSAKey()
	rawKey := hex.EncodeToString(DumpPrivateKey(key))

	badKeyPath := filepath.Join(dir, "priv_key_bad")

	shouldErr := []os.FileMode{
		0777, 0766, 0744,
		0677, 0666, 0644,
		0477, 0466, 0444,
	}

	for _, fm := range shouldErr {
		os.WriteFile(badKeyPath, []byte(rawKey), fm)
		os.Chmod(badKeyPath, fm)

		if _, err := NewSimpleKeyfile(badKeyPath).ReadKey(); err == nil {
			t.Fatalf("%o || keyfile should return permissions error", fm)
		}
	}

	goodKeyPath := filepath.Join(dir, "priv_key_good")

	shouldNotErr := []os.FileMode{
		0700, 0600, 0500, 0400,
	}

	for _, fm := range shouldNotErr {
		os.Remove(goodKeyPath)
		os.WriteFile(goodKeyPath, []byte(rawKey), fm)

		if _, err := NewSimpleKeyfile(goodKeyPath).ReadKey(); err != nil {
			t.Fatalf("%o || keyfile should not return error. Got %v", fm, err)
		}
	}
}

func TestSignVerify(t *testing.T) {
	privKey, _ := GenerateECDSAKey()

	digest := sha256.Sum256([]byte("J'aime mieux forger mon ame que la meubler"))

	sig, err := Sign(privKey, digest[:])
	if err != nil {
		t.Fatal(err)
	}

	if len(sig) != SignatureSize {
		t.Fatalf("signature should be %d bytes, got %d", SignatureSize, len(sig))
	}

	if !Verify(&privKey.PublicKey, digest[:], sig) {
		t.Fatalf("signature should verify")
	}

	other := sha256.Sum256([]byte("something else"))
	if Verify(&privKey.PublicKey, other[:], sig) {
		t.Fatalf("signature should not verify another digest")
	}

	if Verify(&privKey.PublicKey, digest[:], sig[:10]) {
		t.Fatalf("truncated signature should not verify")
	}

	if Verify(&privKey.PublicKey, digest[:], make([]byte, SignatureSize)) {
		t.Fatalf("zero signature should not verify")
	}
}

func TestPublicKeyParsing(t *testing.T) {
	privKey, _ := GenerateECDSAKey()

	raw := FromPublicKey(&privKey.PublicKey)
	if len(raw) != PublicKeySize {
		t.Fatalf("expected %d bytes, got %d", PublicKeySize, len(raw))
	}

	pub, err := ToPublicKey(raw)
	if err != nil {
		t.Fatal(err)
	}

	if !bytes.Equal(FromPublicKey(pub), raw) {
		t.Fatalf("public key round trip failed")
	}

	garbage := append([]byte{0x04}, bytes.Repeat([]byte{0x01}, 64)...)
	if _, err := ToPublicKey(garbage); err == nil {
		t.Fatalf("point off the curve should be refused")
	}

	if _, err := ToPublicKey(nil); err == nil {
		t.Fatalf("empty key should be refused")
	}
}

func TestParsePrivateKey(t *testing.T) {
	key, _ := GenerateECDSAKey()

	parsed, err := ParsePrivateKey(DumpPrivateKey(key))
	if err != nil {
		t.Fatal(err)
	}

	if parsed.D.Cmp(key.D) != 0 || parsed.X.Cmp(key.X) != 0 {
		t.Fatalf("parsed key differs")
	}

	if _, err := ParsePrivateKey(make([]byte, PrivateKeySize)); err == nil {
		t.Fatalf("zero key should be refused")
	}

	if _, err := ParsePrivateKey([]byte{1, 2, 3}); err == nil {
		t.Fatalf("short key should be refused")
	}
}
