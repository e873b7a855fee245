package rpcserver

import (
	"context"

	"tabletdb/pkg/filetransfer"
	"tabletdb/pkg/snapshot"
	"tabletdb/pkg/types"
)

func (s *Server) makeSnapshot(ctx context.Context, req partitionKeyReq) (struct{}, error) {
	return struct{}{}, s.mgr.MakeSnapshot(req.TID, req.PID)
}

func (s *Server) pauseSnapshot(ctx context.Context, req partitionKeyReq) (struct{}, error) {
	return struct{}{}, s.mgr.PauseSnapshot(req.TID, req.PID)
}

func (s *Server) recoverSnapshot(ctx context.Context, req partitionKeyReq) (struct{}, error) {
	return struct{}{}, s.mgr.RecoverSnapshot(req.TID, req.PID)
}

type sendSnapshotReq struct {
	partitionKeyReq
	Endpoint types.NodeID `json:"endpoint"`
}

type opIDResp struct {
	OpID string `json:"op_id"`
}

func (s *Server) sendSnapshot(ctx context.Context, req sendSnapshotReq) (opIDResp, error) {
	opID, err := s.mgr.SendSnapshot(req.TID, req.PID, req.Endpoint)
	return opIDResp{OpID: opID}, err
}

func (s *Server) sendData(ctx context.Context, req filetransfer.Chunk) (struct{}, error) {
	return struct{}{}, s.mgr.SendData(req)
}

type checkFileReq struct {
	partitionKeyReq
	Name string `json:"name"`
}

type checkFileResp struct {
	Exists bool  `json:"exists"`
	Size   int64 `json:"size"`
}

func (s *Server) checkFile(ctx context.Context, req checkFileReq) (checkFileResp, error) {
	exists, size, err := s.mgr.CheckFile(req.TID, req.PID, req.Name)
	return checkFileResp{Exists: exists, Size: size}, err
}

func (s *Server) getManifest(ctx context.Context, req partitionKeyReq) (*snapshot.Manifest, error) {
	return s.mgr.GetManifest(req.TID, req.PID)
}

type partitionOffset struct {
	TID    types.TID    `json:"tid"`
	PID    types.PID    `json:"pid"`
	Offset types.Offset `json:"offset"`
}

// getAllSnapshotOffset flattens the manager's (tid,pid)->offset map into a
// slice, since PartitionKey is a struct and can't be a JSON object key.
func (s *Server) getAllSnapshotOffset(ctx context.Context, req struct{}) ([]partitionOffset, error) {
	offsets := s.mgr.GetAllSnapshotOffset()
	out := make([]partitionOffset, 0, len(offsets))
	for k, v := range offsets {
		out = append(out, partitionOffset{TID: k.TID, PID: k.PID, Offset: v})
	}
	return out, nil
}
