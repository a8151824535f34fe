package syncedview

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
)

// IssuerParams configures how an issuer's TLS secret is turned into a TLS
// config tree.
type IssuerParams struct {
	// TrustedPeers, when nil, means "anyone"; when non-nil (including the
	// empty string), its literal value is installed as the trusted-peers
	// list.
	TrustedPeers *string
	// IsClientConnection selects client-side rules: a client connecting to
	// the "public" issuer installs no certificate/key of its own, and only
	// a client may accept self-signed certificates.
	IsClientConnection bool
	AcceptSelfSigned   bool
	AddCACert          bool
	DisableMTLS        bool
}

// BuildIssuerTLSTree derives an issuer TLS config tree from a resolved
// certificate secret's contents.
func BuildIssuerTLSTree(secretInfo Tree, issuer string, p IssuerParams) Tree {
	out := Tree{}

	publicIssuer := strings.EqualFold(issuer, "public")

	if !p.IsClientConnection || !publicIssuer {
		out["@issuer"] = []byte(issuer)
		if v, ok := secretInfo.Bytes("tls.crt"); ok {
			out["certificate"] = v
		}
		if v, ok := secretInfo.Bytes("tls.key"); ok {
			out["privatekey"] = v
		}
	}

	if !p.IsClientConnection || p.AddCACert {
		if v, ok := secretInfo.Bytes("ca.crt"); ok {
			out["verify/ca_certificates/pem"] = v
		}
	}

	enable := !p.DisableMTLS && (p.IsClientConnection || !publicIssuer)
	out["verify/@enable"] = []byte(strconv.FormatBool(enable))
	out["verify/@address_match"] = []byte("false")
	out["verify/@accept_selfsigned"] = []byte(strconv.FormatBool(p.IsClientConnection && p.AcceptSelfSigned))

	if p.TrustedPeers != nil {
		out["verify/trusted_peers"] = []byte(*p.TrustedPeers)
	} else {
		out["verify/trusted_peers"] = []byte("anyone")
	}

	return out
}

// BuildStorageTLSTree derives a storage TLS config tree from a resolved
// certificate secret's contents.
func BuildStorageTLSTree(secretInfo Tree, addCACert bool) Tree {
	out := Tree{}

	if v, ok := secretInfo.Bytes("tls.crt"); ok {
		out["certificate"] = v
	}
	if v, ok := secretInfo.Bytes("tls.key"); ok {
		out["privatekey"] = v
	}
	if addCACert {
		if v, ok := secretInfo.Bytes("ca.crt"); ok {
			out["verify/ca_certificates/pem"] = v
		}
	}

	return out
}

// CertificateView wraps a secret View and a derivation function, caching
// the derived tree and rebuilding it only when the underlying secret's
// version changes.
type CertificateView struct {
	secret View
	derive func(Tree) Tree

	mu          sync.Mutex
	tree        Tree
	lastVersion uint32
	built       bool
}

// NewCertificateView builds a CertificateView deriving its tree from
// secret via derive, built eagerly so IsValid reflects the current state
// immediately.
func NewCertificateView(secret View, derive func(Tree) Tree) *CertificateView {
	cv := &CertificateView{secret: secret, derive: derive}
	cv.rebuild()
	return cv
}

// NewIssuerTLSView builds a CertificateView over secret deriving an
// issuer TLS config tree, per the rules in spec §4.G: "public" issuer
// clients install no certificate/key, and CA-cert installation is
// controlled by p.AddCACert for a client (servers always get it).
func NewIssuerTLSView(secret View, issuer string, p IssuerParams) *CertificateView {
	return NewCertificateView(secret, func(secretInfo Tree) Tree {
		return BuildIssuerTLSTree(secretInfo, issuer, p)
	})
}

// NewStorageTLSView builds a CertificateView over secret deriving a
// storage TLS config tree. It returns an error if the underlying secret
// was never found, matching the teacher's fail-fast construction for a
// named storage certificate.
func NewStorageTLSView(secret View, category, name string, addCACert bool) (*CertificateView, error) {
	if !secret.IsValid() {
		return nil, fmt.Errorf("secret %s.%s not found", category, name)
	}
	return NewCertificateView(secret, func(secretInfo Tree) Tree {
		return BuildStorageTLSTree(secretInfo, addCACert)
	}), nil
}

func (cv *CertificateView) rebuild() {
	version := cv.secret.GetVersion()
	cv.lastVersion = version
	cv.built = true
	if !cv.secret.IsValid() {
		cv.tree = nil
		return
	}
	cv.tree = cv.derive(cv.secret.GetTree())
}

func (cv *CertificateView) checkUpToDate() {
	cv.mu.Lock()
	defer cv.mu.Unlock()
	if cv.built && cv.secret.GetVersion() == cv.lastVersion {
		return
	}
	cv.rebuild()
}

// GetTree returns the derived config tree, or nil if the underlying
// secret has never resolved.
func (cv *CertificateView) GetTree() Tree {
	cv.checkUpToDate()
	cv.mu.Lock()
	defer cv.mu.Unlock()
	return cv.tree
}

// GetProp returns one key's value from the derived tree.
func (cv *CertificateView) GetProp(key string) ([]byte, bool) {
	cv.checkUpToDate()
	cv.mu.Lock()
	defer cv.mu.Unlock()
	if cv.tree == nil {
		return nil, false
	}
	return cv.tree.Bytes(key)
}

// IsStale reports whether the underlying secret is older than the
// cache's TTL.
func (cv *CertificateView) IsStale() bool {
	return cv.secret.IsStale()
}

// IsValid reports whether the underlying secret has ever resolved.
func (cv *CertificateView) IsValid() bool {
	return cv.secret.IsValid()
}

// GetVersion returns the version of the underlying secret this view was
// last built from.
func (cv *CertificateView) GetVersion() uint32 {
	cv.checkUpToDate()
	cv.mu.Lock()
	defer cv.mu.Unlock()
	return cv.lastVersion
}
