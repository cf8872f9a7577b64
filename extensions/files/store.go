// Package files provides a CSV-backed SourceConnector and SinkWriter over
// local or FTP file stores.
package files

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/jlaffaye/ftp"

	"github.com/dataplat/etl"
)

// FileStore abstracts where flat files live.
type FileStore interface {
	Open(name string) (io.ReadCloser, error)
	Create(name string) (io.WriteCloser, error)
}

// LocalFileStore a FileStore on the local filesystem, rooted at Dir.
type LocalFileStore struct {
	Dir string
}

func (s LocalFileStore) Open(name string) (io.ReadCloser, error) {
	f, err := os.Open(filepath.Join(s.Dir, name))
	if err != nil {
		return nil, etl.NewEtlError(etl.ErrCodeSource, "open file:%v err", name, err)
	}
	return f, nil
}

func (s LocalFileStore) Create(name string) (io.WriteCloser, error) {
	path := filepath.Join(s.Dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, etl.NewEtlError(etl.ErrCodeSink, "create file:%v err", name, err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, etl.NewEtlError(etl.ErrCodeSink, "create file:%v err", name, err)
	}
	return f, nil
}

// FTPFileStore a FileStore on a remote FTP server. Each Open or Create dials
// a fresh connection which is closed together with the returned stream.
type FTPFileStore struct {
	Hostname string
	Port     int
	User     string
	Password string
	Dir      string
	Timeout  time.Duration
}

func (s FTPFileStore) connect() (*ftp.ServerConn, error) {
	timeout := s.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	conn, err := ftp.Dial(fmt.Sprintf("%s:%d", s.Hostname, s.Port), ftp.DialWithTimeout(timeout))
	if err != nil {
		return nil, etl.NewEtlError(etl.ErrCodeSource, "connect ftp server:%v err", s.Hostname, err)
	}
	if err = conn.Login(s.User, s.Password); err != nil {
		_ = conn.Quit()
		return nil, etl.NewEtlError(etl.ErrCodeSource, "login ftp server:%v err", s.Hostname, err)
	}
	return conn, nil
}

func (s FTPFileStore) remotePath(name string) string {
	if s.Dir == "" {
		return name
	}
	return s.Dir + "/" + name
}

func (s FTPFileStore) Open(name string) (io.ReadCloser, error) {
	conn, err := s.connect()
	if err != nil {
		return nil, err
	}
	resp, err := conn.Retr(s.remotePath(name))
	if err != nil {
		_ = conn.Quit()
		return nil, etl.NewEtlError(etl.ErrCodeSource, "retrieve ftp file:%v err", name, err)
	}
	return &ftpReader{resp: resp, conn: conn}, nil
}

func (s FTPFileStore) Create(name string) (io.WriteCloser, error) {
	conn, err := s.connect()
	if err != nil {
		return nil, err
	}
	pr, pw := io.Pipe()
	w := &ftpWriter{pw: pw, conn: conn, done: make(chan error, 1)}
	go func() {
		w.done <- conn.Stor(s.remotePath(name), pr)
	}()
	return w, nil
}

type ftpReader struct {
	resp *ftp.Response
	conn *ftp.ServerConn
}

func (r *ftpReader) Read(p []byte) (int, error) {
	return r.resp.Read(p)
}

func (r *ftpReader) Close() error {
	err := r.resp.Close()
	if qerr := r.conn.Quit(); err == nil {
		err = qerr
	}
	return err
}

type ftpWriter struct {
	pw   *io.PipeWriter
	conn *ftp.ServerConn
	done chan error
}

func (w *ftpWriter) Write(p []byte) (int, error) {
	return w.pw.Write(p)
}

func (w *ftpWriter) Close() error {
	if err := w.pw.Close(); err != nil {
		return err
	}
	err := <-w.done
	if qerr := w.conn.Quit(); err == nil {
		err = qerr
	}
	return err
}
