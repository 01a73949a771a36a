package secp256k1

import (
	"crypto/sha256"
	"errors"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// EncSignatureLength is the length of a serialized adaptor signature:
// R_a || R || s' || c || z || T.
const EncSignatureLength = 33 + 33 + 32 + 32 + 32 + 33

var (
	// ErrInvalidEncSignature is returned when an adaptor signature fails
	// verification, either because its embedded discrete-log proof is
	// ill-formed or because the pre-signature does not match the digest.
	ErrInvalidEncSignature = errors.New("adaptor signature verification failed")

	// ErrSecretNotRecoverable is returned by RecoverSecret when the given
	// signature was not derived from the adaptor signature.
	ErrSecretNotRecoverable = errors.New("cannot recover adaptor secret from signature")

	errInvalidEncSigLength = errors.New("encoded adaptor signature has wrong length")

	adaptorTag = []byte("xmr-btc-swap/ecdsa-adaptor/0")
)

// EncSignature is an ECDSA adaptor signature: a pre-signature over a digest
// that can only be completed into a valid signature with knowledge of the
// discrete log t of the encryption key T = t*G, and whose completion reveals
// t to anyone holding the pre-signature.
//
// It carries a Chaum-Pedersen proof that the nonce commitments R_a = k*G and
// R = k*T share the discrete log k, so the receiving party can check that a
// future completion will both verify and leak the secret.
type EncSignature struct {
	ra, r      secp256k1.JacobianPoint // R_a = k*G, R = k*T
	sp         secp256k1.ModNScalar    // s' = k^-1 (h + r*x)
	proofC     secp256k1.ModNScalar
	proofZ     secp256k1.ModNScalar
	encryptKey *PublicKey // T
}

// EncSign creates an adaptor signature over digest under the keypair's secret,
// encrypted to the point T.
func EncSign(kp *Keypair, digest [32]byte, T *PublicKey) (*EncSignature, error) {
	nonce, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}
	k := nonce.Key

	var tPoint, ra, r secp256k1.JacobianPoint
	T.key.AsJacobian(&tPoint)
	secp256k1.ScalarBaseMultNonConst(&k, &ra)
	secp256k1.ScalarMultNonConst(&k, &tPoint, &r)
	ra.ToAffine()
	r.ToAffine()

	// r-value of the final signature commits to the encrypted nonce point R,
	// not R_a; this is what makes completion leak t.
	rScalar, err := fieldToModN(&r.X)
	if err != nil {
		return nil, err
	}

	h := digestToScalar(digest)

	// s' = k^-1 (h + r*x)
	x := kp.private.Key
	var hrx, sp secp256k1.ModNScalar
	hrx.Mul2(rScalar, &x).Add(h)
	kInv := new(secp256k1.ModNScalar).InverseValNonConst(&k)
	sp.Mul2(kInv, &hrx)
	if sp.IsZero() {
		return nil, errors.New("generated degenerate pre-signature")
	}

	c, z, err := proveNonceDLEq(&k, &tPoint, &ra, &r)
	if err != nil {
		return nil, err
	}

	enc := &EncSignature{
		sp:         sp,
		encryptKey: T,
	}
	enc.ra.Set(&ra)
	enc.r.Set(&r)
	enc.proofC.Set(c)
	enc.proofZ.Set(z)
	return enc, nil
}

// Verify checks that the adaptor signature is a valid pre-signature over
// digest under pub, encrypted to the adaptor's encryption key.
func (enc *EncSignature) Verify(pub *PublicKey, digest [32]byte) error {
	var tPoint secp256k1.JacobianPoint
	enc.encryptKey.key.AsJacobian(&tPoint)

	if !verifyNonceDLEq(&tPoint, &enc.ra, &enc.r, &enc.proofC, &enc.proofZ) {
		return ErrInvalidEncSignature
	}

	rScalar, err := fieldToModN(&enc.r.X)
	if err != nil {
		return ErrInvalidEncSignature
	}
	h := digestToScalar(digest)

	// Check h/s' * G + r/s' * X == R_a, the ECDSA equation with the
	// unencrypted nonce point.
	spInv := new(secp256k1.ModNScalar).InverseValNonConst(&enc.sp)
	var u1, u2 secp256k1.ModNScalar
	u1.Mul2(h, spInv)
	u2.Mul2(rScalar, spInv)

	var xPoint, p1, p2, sum secp256k1.JacobianPoint
	pub.key.AsJacobian(&xPoint)
	secp256k1.ScalarBaseMultNonConst(&u1, &p1)
	secp256k1.ScalarMultNonConst(&u2, &xPoint, &p2)
	secp256k1.AddNonConst(&p1, &p2, &sum)
	sum.ToAffine()

	if !sum.X.Equals(&enc.ra.X) || !sum.Y.Equals(&enc.ra.Y) {
		return ErrInvalidEncSignature
	}
	return nil
}

// Decrypt completes the adaptor signature with the secret t, yielding a valid
// ECDSA signature for the digest the adaptor was created over.
func (enc *EncSignature) Decrypt(t [32]byte) (*Signature, error) {
	var tScalar secp256k1.ModNScalar
	if overflow := tScalar.SetBytes(&t); overflow != 0 {
		return nil, errors.New("adaptor secret overflows the curve order")
	}
	if tScalar.IsZero() {
		return nil, errors.New("adaptor secret is zero")
	}

	rScalar, err := fieldToModN(&enc.r.X)
	if err != nil {
		return nil, err
	}

	// s = s' * t^-1
	tInv := new(secp256k1.ModNScalar).InverseValNonConst(&tScalar)
	var s secp256k1.ModNScalar
	s.Mul2(&enc.sp, tInv)
	if s.IsOverHalfOrder() {
		s.Negate()
	}

	return newSignature(rScalar, &s), nil
}

// RecoverSecret recovers the adaptor secret t from the adaptor signature and
// the completed signature it produced.
func (enc *EncSignature) RecoverSecret(sig *Signature) ([32]byte, error) {
	// t = s' / s, up to sign, since s may have been low-s normalized.
	sInv := new(secp256k1.ModNScalar).InverseValNonConst(&sig.s)
	var t secp256k1.ModNScalar
	t.Mul2(&enc.sp, sInv)

	var expect, candidate secp256k1.JacobianPoint
	enc.encryptKey.key.AsJacobian(&expect)
	expect.ToAffine()

	for i := 0; i < 2; i++ {
		secp256k1.ScalarBaseMultNonConst(&t, &candidate)
		candidate.ToAffine()
		if candidate.X.Equals(&expect.X) && candidate.Y.Equals(&expect.Y) {
			return t.Bytes(), nil
		}
		t.Negate()
	}

	return [32]byte{}, ErrSecretNotRecoverable
}

// EncryptionKey returns the point the adaptor signature is encrypted to.
func (enc *EncSignature) EncryptionKey() *PublicKey {
	return enc.encryptKey
}

// Bytes returns the serialized adaptor signature.
func (enc *EncSignature) Bytes() []byte {
	out := make([]byte, 0, EncSignatureLength)
	out = append(out, encodePoint(&enc.ra)...)
	out = append(out, encodePoint(&enc.r)...)
	sp := enc.sp.Bytes()
	out = append(out, sp[:]...)
	c := enc.proofC.Bytes()
	out = append(out, c[:]...)
	z := enc.proofZ.Bytes()
	out = append(out, z[:]...)
	t := enc.encryptKey.Compressed()
	out = append(out, t[:]...)
	return out
}

// NewEncSignatureFromBytes parses a serialized adaptor signature.
func NewEncSignatureFromBytes(b []byte) (*EncSignature, error) {
	if len(b) != EncSignatureLength {
		return nil, errInvalidEncSigLength
	}

	enc := &EncSignature{}
	if err := decodePoint(b[:33], &enc.ra); err != nil {
		return nil, err
	}
	if err := decodePoint(b[33:66], &enc.r); err != nil {
		return nil, err
	}
	if overflow := enc.sp.SetByteSlice(b[66:98]); overflow {
		return nil, errors.New("pre-signature scalar overflows the curve order")
	}
	if overflow := enc.proofC.SetByteSlice(b[98:130]); overflow {
		return nil, errors.New("proof challenge overflows the curve order")
	}
	if overflow := enc.proofZ.SetByteSlice(b[130:162]); overflow {
		return nil, errors.New("proof response overflows the curve order")
	}

	T, err := NewPublicKeyFromBytes(b[162:])
	if err != nil {
		return nil, err
	}
	enc.encryptKey = T
	return enc, nil
}

// proveNonceDLEq proves knowledge of k such that ra = k*G and r = k*T.
func proveNonceDLEq(k *secp256k1.ModNScalar, tPoint, ra, r *secp256k1.JacobianPoint) (c, z *secp256k1.ModNScalar, err error) {
	blind, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, nil, err
	}
	alpha := blind.Key

	var u1, u2 secp256k1.JacobianPoint
	secp256k1.ScalarBaseMultNonConst(&alpha, &u1)
	secp256k1.ScalarMultNonConst(&alpha, tPoint, &u2)
	u1.ToAffine()
	u2.ToAffine()

	c = challengeScalar(tPoint, ra, r, &u1, &u2)

	// z = alpha + c*k
	z = new(secp256k1.ModNScalar).Mul2(c, k).Add(&alpha)
	return c, z, nil
}

func verifyNonceDLEq(tPoint, ra, r *secp256k1.JacobianPoint, c, z *secp256k1.ModNScalar) bool {
	// u1 = z*G - c*R_a, u2 = z*T - c*R
	negC := new(secp256k1.ModNScalar).NegateVal(c)

	var zg, zt, cra, cr, u1, u2 secp256k1.JacobianPoint
	secp256k1.ScalarBaseMultNonConst(z, &zg)
	secp256k1.ScalarMultNonConst(z, tPoint, &zt)
	secp256k1.ScalarMultNonConst(negC, ra, &cra)
	secp256k1.ScalarMultNonConst(negC, r, &cr)
	secp256k1.AddNonConst(&zg, &cra, &u1)
	secp256k1.AddNonConst(&zt, &cr, &u2)
	u1.ToAffine()
	u2.ToAffine()

	expect := challengeScalar(tPoint, ra, r, &u1, &u2)
	return expect.Equals(c)
}

func challengeScalar(points ...*secp256k1.JacobianPoint) *secp256k1.ModNScalar {
	h := sha256.New()
	h.Write(adaptorTag)
	for _, p := range points {
		h.Write(encodePoint(p))
	}
	return hashToScalar(h.Sum(nil))
}

func hashToScalar(b []byte) *secp256k1.ModNScalar {
	digest := sha256.Sum256(b)
	return digestToScalar(digest)
}

// digestToScalar interprets a signature hash as a scalar mod n, matching what
// standard ECDSA verification does with the message digest.
func digestToScalar(digest [32]byte) *secp256k1.ModNScalar {
	s := new(secp256k1.ModNScalar)
	s.SetByteSlice(digest[:])
	return s
}

func fieldToModN(f *secp256k1.FieldVal) (*secp256k1.ModNScalar, error) {
	b := f.Bytes()
	s := new(secp256k1.ModNScalar)
	s.SetByteSlice(b[:])
	if s.IsZero() {
		return nil, errors.New("nonce x-coordinate is zero mod n")
	}
	return s, nil
}

func encodePoint(p *secp256k1.JacobianPoint) []byte {
	affine := *p
	affine.ToAffine()
	pub := secp256k1.NewPublicKey(&affine.X, &affine.Y)
	return pub.SerializeCompressed()
}

func decodePoint(b []byte, out *secp256k1.JacobianPoint) error {
	pub, err := secp256k1.ParsePubKey(b)
	if err != nil {
		return err
	}
	pub.AsJacobian(out)
	out.ToAffine()
	return nil
}
