// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package null

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gviegas/framegraph/driver"
)

// Command is a recorded command.
type Command struct {
	// Op is the name of the CmdBuffer method.
	Op string
	// Detail is a short, deterministic description
	// of the arguments.
	Detail      string
	Transitions []driver.Transition
	Barriers    []driver.Barrier
}

// String implements fmt.Stringer.
func (c Command) String() string {
	if c.Detail == "" {
		return c.Op
	}
	return c.Op + " " + c.Detail
}

// block identifies the logical block being recorded.
type block int

const (
	bNone block = iota
	bPass
	bWork
	bBlit
)

// CmdBuffer implements driver.CmdBuffer.
type CmdBuffer struct {
	d        *Driver
	id       int
	begun    bool
	block    block
	labels   int
	cmds     []Command
	misuse   error
	executed int
}

// NewCmdBuffer implements driver.GPU.
func (d *Driver) NewCmdBuffer() (driver.CmdBuffer, error) {
	id, err := d.check("NewCmdBuffer", &d.stats.CmdBuffers)
	if err != nil {
		return nil, err
	}
	return &CmdBuffer{d: d, id: id}, nil
}

// Commands returns the commands recorded since the last
// call to Begin or Reset.
// The slice must not be modified.
func (cb *CmdBuffer) Commands() []Command { return cb.cmds }

// Lines returns the String of every recorded command.
func (cb *CmdBuffer) Lines() []string {
	s := make([]string, len(cb.cmds))
	for i := range cb.cmds {
		s[i] = cb.cmds[i].String()
	}
	return s
}

// Executed returns how many times cb was executed.
func (cb *CmdBuffer) Executed() int {
	cb.d.mu.Lock()
	defer cb.d.mu.Unlock()
	return cb.executed
}

func (cb *CmdBuffer) setMisuse(format string, args ...any) {
	if cb.misuse == nil {
		cb.misuse = fmt.Errorf("null: "+format, args...)
	}
}

func (cb *CmdBuffer) rec(op string, in block, detail string) {
	switch {
	case !cb.begun:
		cb.setMisuse("%s called while not recording", op)
	case cb.block != in:
		cb.setMisuse("%s called in the wrong block", op)
	}
	cb.cmds = append(cb.cmds, Command{Op: op, Detail: detail})
}

// Begin implements driver.CmdBuffer.
func (cb *CmdBuffer) Begin() error {
	if cb.begun {
		return errors.New("null: Begin called twice")
	}
	cb.begun = true
	cb.block = bNone
	cb.labels = 0
	cb.cmds = cb.cmds[:0]
	cb.misuse = nil
	return nil
}

// IsRecording implements driver.CmdBuffer.
func (cb *CmdBuffer) IsRecording() bool { return cb.begun }

// BeginPass implements driver.CmdBuffer.
func (cb *CmdBuffer) BeginPass(pass driver.RenderPass, fb driver.Framebuf, clear []driver.ClearValue) {
	p := pass.(*RenderPass)
	f := fb.(*Framebuf)
	if f.pass != p {
		cb.setMisuse("framebuffer %d was not created from render pass %d", f.id, p.id)
	}
	cb.rec("BeginPass", bNone, fmt.Sprintf("pass%d fb%d clear%d", p.id, f.id, len(clear)))
	cb.block = bPass
}

// NextSubpass implements driver.CmdBuffer.
func (cb *CmdBuffer) NextSubpass() { cb.rec("NextSubpass", bPass, "") }

// EndPass implements driver.CmdBuffer.
func (cb *CmdBuffer) EndPass() {
	cb.rec("EndPass", bPass, "")
	cb.block = bNone
}

// BeginWork implements driver.CmdBuffer.
func (cb *CmdBuffer) BeginWork(wait bool) {
	cb.rec("BeginWork", bNone, fmt.Sprint(wait))
	cb.block = bWork
}

// EndWork implements driver.CmdBuffer.
func (cb *CmdBuffer) EndWork() {
	cb.rec("EndWork", bWork, "")
	cb.block = bNone
}

// BeginBlit implements driver.CmdBuffer.
func (cb *CmdBuffer) BeginBlit(wait bool) {
	cb.rec("BeginBlit", bNone, fmt.Sprint(wait))
	cb.block = bBlit
}

// EndBlit implements driver.CmdBuffer.
func (cb *CmdBuffer) EndBlit() {
	cb.rec("EndBlit", bBlit, "")
	cb.block = bNone
}

// SetPipeline implements driver.CmdBuffer.
func (cb *CmdBuffer) SetPipeline(pl driver.Pipeline) {
	in := bPass
	if pl.(*Pipeline).compute {
		in = bWork
	}
	cb.rec("SetPipeline", in, fmt.Sprintf("pl%d", pl.(*Pipeline).id))
}

// SetViewport implements driver.CmdBuffer.
func (cb *CmdBuffer) SetViewport(vp []driver.Viewport) {
	cb.rec("SetViewport", bPass, fmt.Sprint(len(vp)))
}

// SetScissor implements driver.CmdBuffer.
func (cb *CmdBuffer) SetScissor(sciss []driver.Scissor) {
	cb.rec("SetScissor", bPass, fmt.Sprint(len(sciss)))
}

// SetVertexBuf implements driver.CmdBuffer.
func (cb *CmdBuffer) SetVertexBuf(start int, buf []driver.Buffer, off []int64) {
	ids := make([]string, len(buf))
	for i := range buf {
		ids[i] = fmt.Sprintf("buf%d", buf[i].(*Buffer).id)
	}
	cb.rec("SetVertexBuf", bPass, fmt.Sprintf("%d %s", start, strings.Join(ids, ",")))
}

// SetIndexBuf implements driver.CmdBuffer.
func (cb *CmdBuffer) SetIndexBuf(format driver.IndexFmt, buf driver.Buffer, off int64) {
	cb.rec("SetIndexBuf", bPass, fmt.Sprintf("buf%d+%d", buf.(*Buffer).id, off))
}

// SetDescTableGraph implements driver.CmdBuffer.
func (cb *CmdBuffer) SetDescTableGraph(table driver.DescTable, start int, heapCopy []int) {
	cb.rec("SetDescTableGraph", bPass, fmt.Sprintf("dt%d %d %v", table.(*DescTable).id, start, heapCopy))
}

// SetDescTableComp implements driver.CmdBuffer.
func (cb *CmdBuffer) SetDescTableComp(table driver.DescTable, start int, heapCopy []int) {
	cb.rec("SetDescTableComp", bWork, fmt.Sprintf("dt%d %d %v", table.(*DescTable).id, start, heapCopy))
}

// Draw implements driver.CmdBuffer.
func (cb *CmdBuffer) Draw(vertCount, instCount, baseVert, baseInst int) {
	cb.rec("Draw", bPass, fmt.Sprintf("%d %d %d %d", vertCount, instCount, baseVert, baseInst))
}

// DrawIndexed implements driver.CmdBuffer.
func (cb *CmdBuffer) DrawIndexed(idxCount, instCount, baseIdx, vertOff, baseInst int) {
	cb.rec("DrawIndexed", bPass, fmt.Sprintf("%d %d %d %d %d", idxCount, instCount, baseIdx, vertOff, baseInst))
}

// Dispatch implements driver.CmdBuffer.
func (cb *CmdBuffer) Dispatch(grpCountX, grpCountY, grpCountZ int) {
	cb.rec("Dispatch", bWork, fmt.Sprintf("%d %d %d", grpCountX, grpCountY, grpCountZ))
}

// CopyBuffer implements driver.CmdBuffer.
func (cb *CmdBuffer) CopyBuffer(param *driver.BufferCopy) {
	cb.rec("CopyBuffer", bBlit, fmt.Sprintf("buf%d+%d buf%d+%d %d",
		param.From.(*Buffer).id, param.FromOff, param.To.(*Buffer).id, param.ToOff, param.Size))
}

// CopyImage implements driver.CmdBuffer.
func (cb *CmdBuffer) CopyImage(param *driver.ImageCopy) {
	cb.rec("CopyImage", bBlit, fmt.Sprintf("img%d[%d/%d] img%d[%d/%d] x%d",
		param.From.(*Image).id, param.FromLevel, param.FromLayer,
		param.To.(*Image).id, param.ToLevel, param.ToLayer, param.Layers))
}

// CopyBufToImg implements driver.CmdBuffer.
func (cb *CmdBuffer) CopyBufToImg(param *driver.BufImgCopy) {
	cb.rec("CopyBufToImg", bBlit, fmt.Sprintf("buf%d img%d[%d/%d]",
		param.Buf.(*Buffer).id, param.Img.(*Image).id, param.Level, param.Layer))
}

// CopyImgToBuf implements driver.CmdBuffer.
func (cb *CmdBuffer) CopyImgToBuf(param *driver.BufImgCopy) {
	cb.rec("CopyImgToBuf", bBlit, fmt.Sprintf("img%d[%d/%d] buf%d",
		param.Img.(*Image).id, param.Level, param.Layer, param.Buf.(*Buffer).id))
}

// BlitImage implements driver.CmdBuffer.
func (cb *CmdBuffer) BlitImage(param *driver.ImageBlit) {
	cb.rec("BlitImage", bBlit, fmt.Sprintf("img%d[%d/%d] img%d[%d/%d] x%d",
		param.From.(*Image).id, param.FromLevel, param.FromLayer,
		param.To.(*Image).id, param.ToLevel, param.ToLayer, param.Layers))
}

// ClearImage implements driver.CmdBuffer.
func (cb *CmdBuffer) ClearImage(param *driver.ImageClear) {
	cb.rec("ClearImage", bBlit, fmt.Sprintf("img%d[%d+%d/%d+%d]",
		param.Img.(*Image).id, param.Level, param.Levels, param.Layer, param.Layers))
}

// Fill implements driver.CmdBuffer.
func (cb *CmdBuffer) Fill(buf driver.Buffer, off int64, value byte, size int64) {
	cb.rec("Fill", bBlit, fmt.Sprintf("buf%d+%d %d %d", buf.(*Buffer).id, off, value, size))
}

// Barrier implements driver.CmdBuffer.
func (cb *CmdBuffer) Barrier(b []driver.Barrier) {
	var sb strings.Builder
	for i := range b {
		if i > 0 {
			sb.WriteString("; ")
		}
		fmt.Fprintf(&sb, "%v:%v->%v:%v", b[i].SyncBefore, b[i].AccessBefore, b[i].SyncAfter, b[i].AccessAfter)
	}
	cb.rec("Barrier", bNone, sb.String())
	cb.cmds[len(cb.cmds)-1].Barriers = append([]driver.Barrier(nil), b...)
}

// Transition implements driver.CmdBuffer.
func (cb *CmdBuffer) Transition(t []driver.Transition) {
	var sb strings.Builder
	for i := range t {
		if i > 0 {
			sb.WriteString("; ")
		}
		img, ok := t[i].Img.(*Image)
		if !ok {
			cb.setMisuse("Transition with a foreign image")
			continue
		}
		if t[i].Level+t[i].Levels > img.levels || t[i].Layer+t[i].Layers > img.layers {
			cb.setMisuse("Transition out of range of img%d", img.id)
		}
		fmt.Fprintf(&sb, "img%d[%d+%d/%d+%d] %v->%v",
			img.id, t[i].Level, t[i].Levels, t[i].Layer, t[i].Layers, t[i].LayoutBefore, t[i].LayoutAfter)
	}
	cb.rec("Transition", bNone, sb.String())
	cb.cmds[len(cb.cmds)-1].Transitions = append([]driver.Transition(nil), t...)
}

// BeginLabel implements driver.CmdBuffer.
func (cb *CmdBuffer) BeginLabel(name string) {
	if !cb.begun {
		cb.setMisuse("BeginLabel called while not recording")
	}
	cb.labels++
	cb.cmds = append(cb.cmds, Command{Op: "BeginLabel", Detail: name})
}

// EndLabel implements driver.CmdBuffer.
func (cb *CmdBuffer) EndLabel() {
	if cb.labels == 0 {
		cb.setMisuse("EndLabel without BeginLabel")
	} else {
		cb.labels--
	}
	cb.cmds = append(cb.cmds, Command{Op: "EndLabel"})
}

// End implements driver.CmdBuffer.
func (cb *CmdBuffer) End() error {
	if !cb.begun {
		return errors.New("null: End called while not recording")
	}
	cb.begun = false
	switch {
	case cb.misuse != nil:
	case cb.block != bNone:
		cb.setMisuse("End called inside a logical block")
	case cb.labels != 0:
		cb.setMisuse("End called with %d open labels", cb.labels)
	}
	if cb.misuse != nil {
		cb.cmds = cb.cmds[:0]
		return cb.misuse
	}
	if _, err := cb.d.check("End", nil); err != nil {
		cb.cmds = cb.cmds[:0]
		return err
	}
	return nil
}

// Reset implements driver.CmdBuffer.
func (cb *CmdBuffer) Reset() error {
	cb.begun = false
	cb.block = bNone
	cb.labels = 0
	cb.cmds = cb.cmds[:0]
	cb.misuse = nil
	return nil
}

// Destroy implements driver.Destroyer.
func (cb *CmdBuffer) Destroy() {
	cb.cmds = nil
	cb.d.destroyed()
}
