package agent

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"github.com/Leantar/dirwatch/models"
	"github.com/Leantar/fimproto/proto"
)

type baselineFunc func(ctx context.Context, objs []models.FsObject) error

func (a *Agent) selectBaseline(create, update bool) baselineFunc {
	switch {
	case create:
		return a.createBaseline
	case update:
		return a.updateBaseline
	default:
		return a.reportFsStatus
	}
}

// collectFsObjects describes every watched directory and its direct
// entries. Missing directories are skipped; the server reports them as
// deleted.
func collectFsObjects(dirs []string) ([]models.FsObject, error) {
	var objs []models.FsObject

	for _, dir := range dirs {
		dir = filepath.Clean(dir)

		entries, err := os.ReadDir(dir)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}

		obj, err := models.NewFsObject(dir)
		if err != nil {
			return nil, err
		}
		objs = append(objs, obj)

		for _, entry := range entries {
			obj, err := models.NewFsObject(filepath.Join(dir, entry.Name()))
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			if err != nil {
				return nil, err
			}
			objs = append(objs, obj)
		}
	}

	return objs, nil
}

func sendAll(send func(*proto.FsObject) error, objs []models.FsObject) error {
	for _, obj := range objs {
		if err := send(toProto(obj)); err != nil {
			return err
		}
	}
	return nil
}

func (a *Agent) createBaseline(ctx context.Context, objs []models.FsObject) error {
	stream, err := a.client.CreateBaseline(ctx)
	if err != nil {
		return err
	}
	if err = sendAll(stream.Send, objs); err != nil {
		return err
	}
	_, err = stream.CloseAndRecv()
	return err
}

func (a *Agent) updateBaseline(ctx context.Context, objs []models.FsObject) error {
	stream, err := a.client.UpdateBaseline(ctx)
	if err != nil {
		return err
	}
	if err = sendAll(stream.Send, objs); err != nil {
		return err
	}
	_, err = stream.CloseAndRecv()
	return err
}

func (a *Agent) reportFsStatus(ctx context.Context, objs []models.FsObject) error {
	stream, err := a.client.ReportFsStatus(ctx)
	if err != nil {
		return err
	}
	if err = sendAll(stream.Send, objs); err != nil {
		return err
	}
	_, err = stream.CloseAndRecv()
	return err
}
