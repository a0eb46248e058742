// internal/session/transfer.go

package session

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/sftp"

	"sshdeck/internal/apperr"
)

// TransferProgress reports the state of a running file transfer.
type TransferProgress struct {
	FileName         string
	TotalBytes       int64
	TransferredBytes int64
	StartTime        time.Time
}

// Transfer runs SFTP operations on top of a Ready session. It shares the
// session's transport; closing it leaves the session itself connected.
type Transfer struct {
	sftpClient *sftp.Client
}

// NewTransfer opens an SFTP subsystem on the manager's connection. The
// session must be Ready.
func (m *Manager) NewTransfer() (*Transfer, error) {
	m.mu.RLock()
	client := m.client
	state := m.state
	m.mu.RUnlock()

	if state != StateReady || client == nil {
		return nil, apperr.Newf(apperr.InvalidState, "transfer not allowed in state %q", state)
	}

	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		return nil, apperr.New(apperr.Protocol, "failed to open sftp subsystem", err)
	}
	return &Transfer{sftpClient: sftpClient}, nil
}

func (t *Transfer) Close() error {
	if t.sftpClient == nil {
		return nil
	}
	err := t.sftpClient.Close()
	t.sftpClient = nil
	return err
}

// ListRemote returns the entries of a remote directory.
func (t *Transfer) ListRemote(path string) ([]os.FileInfo, error) {
	infos, err := t.sftpClient.ReadDir(path)
	if err != nil {
		return nil, apperr.New(apperr.Protocol, "failed to list remote directory", err)
	}
	return infos, nil
}

// StatRemote returns info about a remote path.
func (t *Transfer) StatRemote(path string) (os.FileInfo, error) {
	info, err := t.sftpClient.Stat(path)
	if err != nil {
		return nil, apperr.New(apperr.Protocol, "failed to stat remote path", err)
	}
	return info, nil
}

// Upload copies a local file to the remote host. progress may be nil.
func (t *Transfer) Upload(localPath, remotePath string, progress func(TransferProgress)) error {
	src, err := os.Open(localPath)
	if err != nil {
		return apperr.New(apperr.Storage, "failed to open local file", err)
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return apperr.New(apperr.Storage, "failed to stat local file", err)
	}

	dst, err := t.sftpClient.Create(remotePath)
	if err != nil {
		return apperr.New(apperr.Protocol, "failed to create remote file", err)
	}
	defer dst.Close()

	return t.copy(dst, src, filepath.Base(localPath), info.Size(), progress)
}

// Download copies a remote file to the local filesystem.
func (t *Transfer) Download(remotePath, localPath string, progress func(TransferProgress)) error {
	src, err := t.sftpClient.Open(remotePath)
	if err != nil {
		return apperr.New(apperr.Protocol, "failed to open remote file", err)
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return apperr.New(apperr.Protocol, "failed to stat remote file", err)
	}

	dst, err := os.Create(localPath)
	if err != nil {
		return apperr.New(apperr.Storage, "failed to create local file", err)
	}
	defer dst.Close()

	return t.copy(dst, src, filepath.Base(remotePath), info.Size(), progress)
}

func (t *Transfer) copy(dst io.Writer, src io.Reader, name string, total int64, progress func(TransferProgress)) error {
	p := TransferProgress{
		FileName:   name,
		TotalBytes: total,
		StartTime:  time.Now(),
	}

	buf := make([]byte, 128*1024)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return apperr.New(apperr.Protocol, "transfer write failed", werr)
			}
			p.TransferredBytes += int64(n)
			if progress != nil {
				progress(p)
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return apperr.New(apperr.Protocol, "transfer read failed", err)
		}
	}
}
