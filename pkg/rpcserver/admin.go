package rpcserver

import (
	"context"

	"tabletdb/pkg/manager"
	"tabletdb/pkg/schema"
	"tabletdb/pkg/types"
)

type updateMetaForAddFieldReq struct {
	TID  types.TID        `json:"tid"`
	Meta schema.TableMeta `json:"meta"`
}

func (s *Server) updateTableMetaForAddField(ctx context.Context, req updateMetaForAddFieldReq) (struct{}, error) {
	meta := req.Meta
	return struct{}{}, s.mgr.UpdateTableMetaForAddField(req.TID, &meta)
}

type deleteIndexReq struct {
	partitionKeyReq
	IndexName string `json:"index_name"`
}

func (s *Server) deleteIndex(ctx context.Context, req deleteIndexReq) (struct{}, error) {
	return struct{}{}, s.mgr.DeleteIndex(req.TID, req.PID, req.IndexName)
}

type dumpIndexDataReq struct {
	partitionKeyReq
	manager.DumpIndexSpec
}

func (s *Server) dumpIndexData(ctx context.Context, req dumpIndexDataReq) (opIDResp, error) {
	opID, err := s.mgr.DumpIndexData(req.TID, req.PID, req.DumpIndexSpec)
	return opIDResp{OpID: opID}, err
}

func (s *Server) executeGc(ctx context.Context, req partitionKeyReq) (struct{}, error) {
	return struct{}{}, s.mgr.ExecuteGc(req.TID, req.PID)
}

func (s *Server) deleteBinlog(ctx context.Context, req partitionKeyReq) (struct{}, error) {
	return struct{}{}, s.mgr.DeleteBinlog(req.TID, req.PID)
}

type setExpireReq struct {
	partitionKeyReq
	On bool `json:"on"`
}

func (s *Server) setExpire(ctx context.Context, req setExpireReq) (struct{}, error) {
	return struct{}{}, s.mgr.SetExpire(req.TID, req.PID, req.On)
}

type setTTLClockReq struct {
	On bool `json:"on"`
}

func (s *Server) setTTLClock(ctx context.Context, req setTTLClockReq) (struct{}, error) {
	s.mgr.SetTTLClock(req.On)
	return struct{}{}, nil
}

type updateTTLReq struct {
	partitionKeyReq
	TTL schema.TTLDesc `json:"ttl"`
}

func (s *Server) updateTTL(ctx context.Context, req updateTTLReq) (struct{}, error) {
	return struct{}{}, s.mgr.UpdateTTL(req.TID, req.PID, req.TTL)
}

type connectZKReq struct {
	SelfEndpoint string `json:"self_endpoint"`
}

func (s *Server) connectZK(ctx context.Context, req connectZKReq) (struct{}, error) {
	return struct{}{}, s.mgr.ConnectZK(req.SelfEndpoint)
}

func (s *Server) disconnectZK(ctx context.Context, req struct{}) (struct{}, error) {
	return struct{}{}, s.mgr.DisConnectZK()
}

type setConcurrencyReq struct {
	Key string `json:"key"`
	Max int    `json:"max"`
}

func (s *Server) setConcurrency(ctx context.Context, req setConcurrencyReq) (struct{}, error) {
	s.mgr.SetConcurrency(req.Key, req.Max)
	return struct{}{}, nil
}

type opIDReq struct {
	OpID string `json:"op_id"`
}

type taskStatusResp struct {
	Found bool            `json:"found"`
	Task  manager.TaskInfo `json:"task"`
}

func (s *Server) getTaskStatus(ctx context.Context, req opIDReq) (taskStatusResp, error) {
	info, ok := s.mgr.GetTaskStatus(req.OpID)
	return taskStatusResp{Found: ok, Task: info}, nil
}

type deleteOPTaskResp struct {
	Deleted bool `json:"deleted"`
}

func (s *Server) deleteOPTask(ctx context.Context, req opIDReq) (deleteOPTaskResp, error) {
	return deleteOPTaskResp{Deleted: s.mgr.DeleteOPTask(req.OpID)}, nil
}

func (s *Server) showMemPool(ctx context.Context, req struct{}) (manager.MemPoolStats, error) {
	return s.mgr.ShowMemPool(), nil
}
