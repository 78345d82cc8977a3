package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"

	"github.com/glencoesoftware/omero-ms-pixel-buffer/pixbuf"
	"github.com/glencoesoftware/omero-ms-pixel-buffer/session"
	"github.com/glencoesoftware/omero-ms-pixel-buffer/storage"

	"github.com/klauspost/compress/zip"
	"github.com/zenazn/goji/web"
	"github.com/zenazn/goji/web/middleware"
)

const (
	AnnotationPath = "/annotation/:annotationId"
	FilePath       = "/file/:fileId"
	ZipPath        = "/zip/:imageId"
)

// transfer is one authenticated request for original file bytes.  A transfer holds a
// session lease and a slot of the transfer limit until done is called.
type transfer struct {
	id   int64
	cred pixbuf.Credential
	tlog pixbuf.TimeLog
	done func()
}

// startTransfer parses the id in param, resolves the session and takes a transfer slot.
// On failure the response has been written and nil is returned.
func (g *Gateway) startTransfer(c web.C, w http.ResponseWriter, r *http.Request, param string) *transfer {
	tlog := pixbuf.NewRequestLog(middleware.GetReqID(c), "")
	id, err := strconv.ParseInt(c.URLParams[param], 10, 64)
	if err != nil || id <= 0 {
		g.fail(w, tlog, pixbuf.NewError(pixbuf.KindBadRequest, "%s must be a positive integer, not %q", param, c.URLParams[param]))
		return nil
	}
	lease, err := g.resolver.Resolve(r.Context(), session.KeyFromRequest(r, g.cookie))
	if err != nil {
		g.fail(w, tlog, pixbuf.Classify("session", err))
		return nil
	}
	if !g.transfers.TryAcquire(1) {
		lease.Release()
		g.fail(w, tlog, pixbuf.NewError(pixbuf.KindOverloaded, "all %d file transfers busy", g.maxTransfers))
		return nil
	}
	return &transfer{
		id:   id,
		cred: lease.Credential(),
		tlog: tlog,
		done: func() {
			g.transfers.Release(1)
			lease.Release()
		},
	}
}

// annotationHandler serves GET /annotation/{annotationId}, the file linked by a file
// annotation.
func (g *Gateway) annotationHandler(c web.C, w http.ResponseWriter, r *http.Request) {
	t := g.startTransfer(c, w, r, "annotationId")
	if t == nil {
		return
	}
	defer t.done()
	f, err := g.files.FileAnnotation(r.Context(), t.id, t.cred)
	if err != nil {
		g.fail(w, t.tlog, hideDenial(pixbuf.Classify("annotation", err), g.revealDenial))
		return
	}
	g.sendFile(r.Context(), w, t.tlog, f, "application/octet-stream")
}

// fileHandler serves GET /file/{fileId}, one original file with its own mimetype.
func (g *Gateway) fileHandler(c web.C, w http.ResponseWriter, r *http.Request) {
	t := g.startTransfer(c, w, r, "fileId")
	if t == nil {
		return
	}
	defer t.done()
	f, err := g.files.OriginalFile(r.Context(), t.id, t.cred)
	if err != nil {
		g.fail(w, t.tlog, hideDenial(pixbuf.Classify("file", err), g.revealDenial))
		return
	}
	g.sendFile(r.Context(), w, t.tlog, f, f.Mimetype)
}

func (g *Gateway) sendFile(ctx context.Context, w http.ResponseWriter, tlog pixbuf.TimeLog, f *storage.FileInfo, contentType string) {
	rd, size, err := g.files.OpenFile(ctx, f)
	if err != nil {
		g.fail(w, tlog, pixbuf.Classify("file", err))
		return
	}
	defer rd.Close()

	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", path.Base(f.Name)))
	w.WriteHeader(http.StatusOK)
	n, err := io.Copy(w, rd)
	if err != nil {
		tlog.Warningf("failed sending original file %d after %d bytes: %v", f.ID, n, err)
		return
	}
	if g.metrics != nil {
		g.metrics.ObserveResponse(http.StatusOK)
	}
	tlog.Debugf("sent original file %d, %d bytes", f.ID, n)
}

// zipHandler serves GET /zip/{imageId}, every original file of an image in one zip
// archive.  All files are checked before the first byte is sent.
func (g *Gateway) zipHandler(c web.C, w http.ResponseWriter, r *http.Request) {
	t := g.startTransfer(c, w, r, "imageId")
	if t == nil {
		return
	}
	defer t.done()
	files, err := g.files.ImageFiles(r.Context(), t.id, t.cred)
	if err != nil {
		g.fail(w, t.tlog, hideDenial(pixbuf.Classify("zip", err), g.revealDenial))
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"image%d.zip\"", t.id))
	w.WriteHeader(http.StatusOK)
	if err := g.writeZip(r.Context(), w, files); err != nil {
		t.tlog.Warningf("zip of image %d cut short: %v", t.id, err)
		return
	}
	if g.metrics != nil {
		g.metrics.ObserveResponse(http.StatusOK)
	}
	t.tlog.Debugf("sent %d original files of image %d", len(files), t.id)
}

func (g *Gateway) writeZip(ctx context.Context, w io.Writer, files []*storage.FileInfo) error {
	zw := zip.NewWriter(w)
	for _, f := range files {
		entry, err := zw.Create(zipEntryName(f, files))
		if err != nil {
			return err
		}
		rd, _, err := g.files.OpenFile(ctx, f)
		if err != nil {
			return err
		}
		_, err = io.Copy(entry, rd)
		rd.Close()
		if err != nil {
			return fmt.Errorf("original file %d: %v", f.ID, err)
		}
	}
	return zw.Close()
}

// zipEntryName is the base name of f, prefixed with its id if another file of the
// archive has the same base name.
func zipEntryName(f *storage.FileInfo, files []*storage.FileInfo) string {
	name := path.Base(f.Name)
	for _, other := range files {
		if other.ID != f.ID && path.Base(other.Name) == name {
			return fmt.Sprintf("%d_%s", f.ID, name)
		}
	}
	return name
}
