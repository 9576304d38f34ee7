package crypto

import "testing"

func TestBoxEncryptDecryptRoundTrip(t *testing.T) {
	sender, err := NewEncryptionKeyPair()
	if err != nil {
		t.Fatalf("NewEncryptionKeyPair: %v", err)
	}
	recipient, err := NewEncryptionKeyPair()
	if err != nil {
		t.Fatalf("NewEncryptionKeyPair: %v", err)
	}

	plaintext := []byte("session seed")
	ciphertext, err := BoxEncrypt(plaintext, recipient.PublicKey, sender.SecretKey)
	if err != nil {
		t.Fatalf("BoxEncrypt: %v", err)
	}

	opened, err := BoxDecrypt(ciphertext, sender.PublicKey, recipient.SecretKey)
	if err != nil {
		t.Fatalf("BoxDecrypt: %v", err)
	}
	if string(opened) != string(plaintext) {
		t.Fatalf("round trip mismatch: got %q want %q", opened, plaintext)
	}
}

func TestBoxDecryptFailsForWrongKey(t *testing.T) {
	sender, _ := NewEncryptionKeyPair()
	recipient, _ := NewEncryptionKeyPair()
	other, _ := NewEncryptionKeyPair()

	ciphertext, err := BoxEncrypt([]byte("secret"), recipient.PublicKey, sender.SecretKey)
	if err != nil {
		t.Fatalf("BoxEncrypt: %v", err)
	}

	if _, err := BoxDecrypt(ciphertext, sender.PublicKey, other.SecretKey); err != ErrOpenFailed {
		t.Fatalf("expected ErrOpenFailed, got %v", err)
	}
}

func TestBoxDecryptRejectsShortCiphertext(t *testing.T) {
	recipient, _ := NewEncryptionKeyPair()
	if _, err := BoxDecrypt([]byte("short"), recipient.PublicKey, recipient.SecretKey); err != ErrOpenFailed {
		t.Fatalf("expected ErrOpenFailed, got %v", err)
	}
}
