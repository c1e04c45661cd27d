package transport

import (
	"crypto/tls"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/idorocodes/qight/internal/errors"
	"github.com/idorocodes/qight/internal/logging"
)

// CertReloader serves the relay's TLS keypair and swaps it atomically when
// the files change on disk, so certificate rotation needs no restart. Wire
// it in through TLSConfig (which uses GetCertificate); a failed reload keeps
// the previous keypair.
type CertReloader struct {
	certFile string
	keyFile  string
	log      *logging.Logger

	current atomic.Pointer[tls.Certificate]

	watcher  *fsnotify.Watcher
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewCertReloader loads the keypair once and prepares the reloader. The
// files must already exist (see EnsureServerCert).
func NewCertReloader(certFile, keyFile string, log *logging.Logger) (*CertReloader, error) {
	if log == nil {
		log = logging.NopLogger()
	}
	r := &CertReloader{
		certFile: certFile,
		keyFile:  keyFile,
		log:      log.WithComponent("transport"),
		stopCh:   make(chan struct{}),
	}
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, errors.NewTransportError("load server keypair", err)
	}
	r.current.Store(&cert)
	return r, nil
}

// GetCertificate returns the current keypair. Plugs into tls.Config.
func (r *CertReloader) GetCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	return r.current.Load(), nil
}

// TLSConfig builds the relay's TLS configuration around the reloader.
func (r *CertReloader) TLSConfig() *tls.Config {
	return &tls.Config{
		GetCertificate: r.GetCertificate,
		NextProtos:     []string{ALPN},
		MinVersion:     tls.VersionTLS13,
	}
}

// Start begins watching the keypair files for changes.
func (r *CertReloader) Start() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.NewTransportError("create certificate watcher", err)
	}
	r.watcher = watcher

	// Watch the parent directories: rotation tools typically replace files
	// by rename, which drops a watch held on the file itself.
	dirs := map[string]struct{}{
		filepath.Dir(r.certFile): {},
		filepath.Dir(r.keyFile):  {},
	}
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			_ = watcher.Close()
			return errors.NewTransportError("watch certificate directory", err)
		}
	}

	go r.watchLoop()
	return nil
}

// Stop halts the watcher. The last loaded keypair stays served.
func (r *CertReloader) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopCh)
		if r.watcher != nil {
			_ = r.watcher.Close()
		}
	})
}

// watchLoop reloads after file events settle. Rotation writes both files,
// usually in quick succession; debouncing folds them into one reload.
func (r *CertReloader) watchLoop() {
	debounce := time.NewTimer(0)
	<-debounce.C
	pending := false

	for {
		select {
		case <-r.stopCh:
			return

		case event, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if !r.relevant(event.Name) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			pending = true
			debounce.Reset(200 * time.Millisecond)

		case <-debounce.C:
			if pending {
				pending = false
				r.reload()
			}

		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			r.log.Warn("certificate watcher error", "error", err)
		}
	}
}

func (r *CertReloader) relevant(path string) bool {
	return path == r.certFile || path == r.keyFile
}

func (r *CertReloader) reload() {
	cert, err := tls.LoadX509KeyPair(r.certFile, r.keyFile)
	if err != nil {
		// Half-rotated keypairs fail to parse; keep serving the old one.
		r.log.Warn("certificate reload failed, keeping previous keypair", "error", err)
		return
	}
	r.current.Store(&cert)
	r.log.Info("certificate reloaded", "cert_file", r.certFile)
}
