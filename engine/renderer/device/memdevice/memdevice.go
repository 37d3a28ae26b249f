// Package memdevice implements device.Context on host memory. Buffers are
// byte slices, copy commands are recorded and executed when the queue is
// waited on. Every call is logged so callers can assert ordering, and any
// operation can be made to fail once.
package memdevice

import (
	"sync"

	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/meshbuf/engine/core"
	"github.com/spaghettifunk/meshbuf/engine/renderer/device"
)

type Op string

const (
	OpCreateBuffer          Op = "CreateBuffer"
	OpAllocateMemory        Op = "AllocateMemory"
	OpBindBufferMemory      Op = "BindBufferMemory"
	OpMapMemory             Op = "MapMemory"
	OpUnmapMemory           Op = "UnmapMemory"
	OpDestroyBuffer         Op = "DestroyBuffer"
	OpFreeMemory            Op = "FreeMemory"
	OpAllocateCommandBuffer Op = "AllocateCommandBuffer"
	OpBeginCommandBuffer    Op = "BeginCommandBuffer"
	OpCmdCopyBuffer         Op = "CmdCopyBuffer"
	OpEndCommandBuffer      Op = "EndCommandBuffer"
	OpQueueSubmit           Op = "QueueSubmit"
	OpQueueWaitIdle         Op = "QueueWaitIdle"
	OpFreeCommandBuffer     Op = "FreeCommandBuffer"
)

// Call is one entry of the call log. Object is the handle the call acts on,
// Target the secondary handle or value (memory for a bind, queue for a
// submit, pool for an allocation, memory type for an allocation, flags for
// a begin).
type Call struct {
	Op     Op
	Object uint32
	Target uint32
}

type buffer struct {
	size   uint64
	usage  vk.BufferUsageFlags
	memory device.MemoryHandle
	offset uint64
}

type allocation struct {
	data      []byte
	typeIndex uint32
	mapped    bool
}

type commandState int

const (
	commandStateInitial commandState = iota
	commandStateRecording
	commandStateExecutable
	commandStatePending
)

type copyCommand struct {
	src, dst device.BufferHandle
	regions  []device.BufferCopy
}

type commandBuffer struct {
	pool     device.CommandPoolHandle
	state    commandState
	flags    vk.CommandBufferUsageFlags
	commands []copyCommand
}

type queue struct {
	family  uint32
	pending []device.CommandBufferHandle
}

type commandPool struct {
	family uint32
}

var _ device.Context = (*Device)(nil)

// Device is a device.Context backed by host memory.
type Device struct {
	mu sync.Mutex

	memoryTypes    []device.MemoryType
	memoryTypeBits uint32
	alignment      uint64
	budget         uint64
	allocated      uint64

	families map[device.QueueKind]device.QueueFamily
	objects  *core.IdentifierPool

	calls    []Call
	failures map[Op]*failure
}

type failure struct {
	skip int
	err  error
}

type Option func(*Device)

// WithMemoryTypes replaces the memory type table.
func WithMemoryTypes(types ...device.MemoryType) Option {
	return func(d *Device) {
		d.memoryTypes = append([]device.MemoryType(nil), types...)
		d.memoryTypeBits = 1<<uint(len(types)) - 1
	}
}

// WithMemoryTypeBits sets the type filter reported for every buffer.
func WithMemoryTypeBits(bits uint32) Option {
	return func(d *Device) {
		d.memoryTypeBits = bits
	}
}

func WithAlignment(alignment uint64) Option {
	return func(d *Device) {
		d.alignment = alignment
	}
}

// WithMemoryBudget limits the total bytes that may be allocated at once.
func WithMemoryBudget(bytes uint64) Option {
	return func(d *Device) {
		d.budget = bytes
	}
}

// WithSharedQueueFamily makes transfer operations use the graphics family.
func WithSharedQueueFamily() Option {
	return func(d *Device) {
		d.families[device.QueueKindTransfer] = d.families[device.QueueKindGraphics]
	}
}

// DefaultMemoryTypes mirrors the table of a common discrete GPU.
func DefaultMemoryTypes() []device.MemoryType {
	return []device.MemoryType{
		{PropertyFlags: vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit), HeapIndex: 0},
		{PropertyFlags: vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit | vk.MemoryPropertyHostCoherentBit), HeapIndex: 1},
		{PropertyFlags: vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit | vk.MemoryPropertyHostVisibleBit | vk.MemoryPropertyHostCoherentBit), HeapIndex: 0},
		{PropertyFlags: vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit | vk.MemoryPropertyHostCoherentBit | vk.MemoryPropertyHostCachedBit), HeapIndex: 1},
	}
}

func New(opts ...Option) *Device {
	d := &Device{
		alignment: 16,
		families:  make(map[device.QueueKind]device.QueueFamily, 2),
		objects:   core.NewIdentifierPool(64),
		failures:  make(map[Op]*failure),
	}
	WithMemoryTypes(DefaultMemoryTypes()...)(d)

	d.families[device.QueueKindGraphics] = device.QueueFamily{
		Index:       0,
		Queue:       device.QueueHandle(d.objects.Acquire(&queue{family: 0})),
		CommandPool: device.CommandPoolHandle(d.objects.Acquire(&commandPool{family: 0})),
	}
	d.families[device.QueueKindTransfer] = device.QueueFamily{
		Index:       1,
		Queue:       device.QueueHandle(d.objects.Acquire(&queue{family: 1})),
		CommandPool: device.CommandPoolHandle(d.objects.Acquire(&commandPool{family: 1})),
	}

	for _, opt := range opts {
		opt(d)
	}
	return d
}

// FailNext makes the next call of op return err.
func (d *Device) FailNext(op Op, err error) {
	d.FailAfter(op, 0, err)
}

// FailAfter lets skip calls of op succeed, then makes the following one
// return err.
func (d *Device) FailAfter(op Op, skip int, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failures[op] = &failure{skip: skip, err: err}
}

// Calls returns a copy of the call log.
func (d *Device) Calls() []Call {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Call(nil), d.calls...)
}

// CallsOf returns the logged calls of a single operation.
func (d *Device) CallsOf(op Op) []Call {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []Call
	for _, c := range d.calls {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

func (d *Device) ResetCalls() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = nil
}

// LiveBuffers and LiveAllocations report objects not yet destroyed or freed.
func (d *Device) LiveBuffers() int {
	return d.count(func(o interface{}) bool { _, ok := o.(*buffer); return ok })
}

func (d *Device) LiveAllocations() int {
	return d.count(func(o interface{}) bool { _, ok := o.(*allocation); return ok })
}

func (d *Device) LiveCommandBuffers() int {
	return d.count(func(o interface{}) bool { _, ok := o.(*commandBuffer); return ok })
}

func (d *Device) count(match func(interface{}) bool) int {
	n := 0
	d.objects.Range(func(_ uint32, o interface{}) bool {
		if match(o) {
			n++
		}
		return true
	})
	return n
}

// BufferContents returns a copy of the bytes bound to a buffer, whatever its
// memory type.
func (d *Device) BufferContents(handle device.BufferHandle) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, err := d.buffer(handle)
	if err != nil {
		return nil, err
	}
	a, err := d.allocation(b.memory)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), a.data[b.offset:b.offset+b.size]...), nil
}

// BufferMemoryType returns the memory type index backing a buffer.
func (d *Device) BufferMemoryType(handle device.BufferHandle) (uint32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, err := d.buffer(handle)
	if err != nil {
		return 0, err
	}
	a, err := d.allocation(b.memory)
	if err != nil {
		return 0, err
	}
	return a.typeIndex, nil
}

func (d *Device) record(op Op, object, target uint32) error {
	d.calls = append(d.calls, Call{Op: op, Object: object, Target: target})
	f, ok := d.failures[op]
	if !ok {
		return nil
	}
	if f.skip > 0 {
		f.skip--
		return nil
	}
	delete(d.failures, op)
	return f.err
}

func (d *Device) buffer(handle device.BufferHandle) (*buffer, error) {
	o, ok := d.objects.Owner(uint32(handle))
	if b, isBuffer := o.(*buffer); ok && isBuffer {
		return b, nil
	}
	return nil, errors.Newf("memdevice: invalid buffer handle %d", handle)
}

func (d *Device) allocation(handle device.MemoryHandle) (*allocation, error) {
	o, ok := d.objects.Owner(uint32(handle))
	if a, isAlloc := o.(*allocation); ok && isAlloc {
		return a, nil
	}
	return nil, errors.Newf("memdevice: invalid memory handle %d", handle)
}

func (d *Device) commandBuffer(handle device.CommandBufferHandle) (*commandBuffer, error) {
	o, ok := d.objects.Owner(uint32(handle))
	if c, isCmd := o.(*commandBuffer); ok && isCmd {
		return c, nil
	}
	return nil, errors.Newf("memdevice: invalid command buffer handle %d", handle)
}

func (d *Device) queue(handle device.QueueHandle) (*queue, error) {
	o, ok := d.objects.Owner(uint32(handle))
	if q, isQueue := o.(*queue); ok && isQueue {
		return q, nil
	}
	return nil, errors.Newf("memdevice: invalid queue handle %d", handle)
}

func (d *Device) MemoryTypes() []device.MemoryType {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]device.MemoryType(nil), d.memoryTypes...)
}

func (d *Device) QueueFamily(kind device.QueueKind) device.QueueFamily {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.families[kind]
}

func (d *Device) CreateBuffer(size uint64, usage vk.BufferUsageFlags) (device.BufferHandle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.record(OpCreateBuffer, 0, uint32(usage)); err != nil {
		return device.NullBuffer, err
	}
	if size == 0 {
		return device.NullBuffer, errors.New("memdevice: buffer size must be greater than zero")
	}
	handle := device.BufferHandle(d.objects.Acquire(&buffer{size: size, usage: usage}))
	d.calls[len(d.calls)-1].Object = uint32(handle)
	return handle, nil
}

func (d *Device) BufferMemoryRequirements(handle device.BufferHandle) device.MemoryRequirements {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, err := d.buffer(handle)
	if err != nil {
		return device.MemoryRequirements{}
	}
	return device.MemoryRequirements{
		Size:           device.AlignUp(b.size, d.alignment),
		Alignment:      d.alignment,
		MemoryTypeBits: d.memoryTypeBits,
	}
}

func (d *Device) AllocateMemory(size uint64, memoryTypeIndex uint32) (device.MemoryHandle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.record(OpAllocateMemory, 0, memoryTypeIndex); err != nil {
		return device.NullMemory, err
	}
	if memoryTypeIndex >= uint32(len(d.memoryTypes)) {
		return device.NullMemory, errors.Newf("memdevice: memory type %d out of range", memoryTypeIndex)
	}
	if d.budget > 0 && d.allocated+size > d.budget {
		return device.NullMemory, errors.Newf("memdevice: out of device memory (%d of %d bytes in use)", d.allocated, d.budget)
	}
	d.allocated += size
	handle := device.MemoryHandle(d.objects.Acquire(&allocation{data: make([]byte, size), typeIndex: memoryTypeIndex}))
	d.calls[len(d.calls)-1].Object = uint32(handle)
	return handle, nil
}

func (d *Device) BindBufferMemory(bh device.BufferHandle, mh device.MemoryHandle, offset uint64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.record(OpBindBufferMemory, uint32(bh), uint32(mh)); err != nil {
		return err
	}
	b, err := d.buffer(bh)
	if err != nil {
		return err
	}
	a, err := d.allocation(mh)
	if err != nil {
		return err
	}
	if b.memory != device.NullMemory {
		return errors.Newf("memdevice: buffer %d already bound", bh)
	}
	if offset+b.size > uint64(len(a.data)) {
		return errors.Newf("memdevice: allocation too small for buffer %d", bh)
	}
	b.memory = mh
	b.offset = offset
	return nil
}

func (d *Device) MapMemory(mh device.MemoryHandle, offset, size uint64) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.record(OpMapMemory, uint32(mh), uint32(offset)); err != nil {
		return nil, err
	}
	a, err := d.allocation(mh)
	if err != nil {
		return nil, err
	}
	flags := d.memoryTypes[a.typeIndex].PropertyFlags
	if flags&vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit) == 0 {
		return nil, errors.Newf("memdevice: memory %d is not host visible", mh)
	}
	if a.mapped {
		return nil, errors.Newf("memdevice: memory %d is already mapped", mh)
	}
	if limit := uint64(len(a.data)); size > limit || offset > limit-size {
		return nil, errors.Newf("memdevice: map of %d bytes at %d exceeds allocation of %d bytes", size, offset, len(a.data))
	}
	a.mapped = true
	return a.data[offset : offset+size : offset+size], nil
}

func (d *Device) UnmapMemory(mh device.MemoryHandle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	_ = d.record(OpUnmapMemory, uint32(mh), 0)
	if a, err := d.allocation(mh); err == nil {
		a.mapped = false
	}
}

func (d *Device) DestroyBuffer(bh device.BufferHandle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	_ = d.record(OpDestroyBuffer, uint32(bh), 0)
	if _, err := d.buffer(bh); err == nil {
		_ = d.objects.Release(uint32(bh))
	}
}

func (d *Device) FreeMemory(mh device.MemoryHandle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	_ = d.record(OpFreeMemory, uint32(mh), 0)
	if a, err := d.allocation(mh); err == nil {
		d.allocated -= uint64(len(a.data))
		_ = d.objects.Release(uint32(mh))
	}
}

func (d *Device) AllocateCommandBuffer(pool device.CommandPoolHandle) (device.CommandBufferHandle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.record(OpAllocateCommandBuffer, 0, uint32(pool)); err != nil {
		return device.NullCommandBuffer, err
	}
	o, ok := d.objects.Owner(uint32(pool))
	if _, isPool := o.(*commandPool); !ok || !isPool {
		return device.NullCommandBuffer, errors.Newf("memdevice: invalid command pool handle %d", pool)
	}
	handle := device.CommandBufferHandle(d.objects.Acquire(&commandBuffer{pool: pool}))
	d.calls[len(d.calls)-1].Object = uint32(handle)
	return handle, nil
}

func (d *Device) BeginCommandBuffer(ch device.CommandBufferHandle, flags vk.CommandBufferUsageFlags) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.record(OpBeginCommandBuffer, uint32(ch), uint32(flags)); err != nil {
		return err
	}
	c, err := d.commandBuffer(ch)
	if err != nil {
		return err
	}
	if c.state != commandStateInitial {
		return errors.Newf("memdevice: command buffer %d is not in the initial state", ch)
	}
	c.state = commandStateRecording
	c.flags = flags
	return nil
}

func (d *Device) CmdCopyBuffer(ch device.CommandBufferHandle, src, dst device.BufferHandle, regions []device.BufferCopy) {
	d.mu.Lock()
	defer d.mu.Unlock()
	_ = d.record(OpCmdCopyBuffer, uint32(ch), uint32(dst))
	c, err := d.commandBuffer(ch)
	if err != nil || c.state != commandStateRecording {
		return
	}
	c.commands = append(c.commands, copyCommand{
		src:     src,
		dst:     dst,
		regions: append([]device.BufferCopy(nil), regions...),
	})
}

func (d *Device) EndCommandBuffer(ch device.CommandBufferHandle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.record(OpEndCommandBuffer, uint32(ch), 0); err != nil {
		return err
	}
	c, err := d.commandBuffer(ch)
	if err != nil {
		return err
	}
	if c.state != commandStateRecording {
		return errors.Newf("memdevice: command buffer %d is not recording", ch)
	}
	c.state = commandStateExecutable
	return nil
}

func (d *Device) QueueSubmit(qh device.QueueHandle, ch device.CommandBufferHandle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.record(OpQueueSubmit, uint32(ch), uint32(qh)); err != nil {
		return err
	}
	q, err := d.queue(qh)
	if err != nil {
		return err
	}
	c, err := d.commandBuffer(ch)
	if err != nil {
		return err
	}
	if c.state != commandStateExecutable {
		return errors.Newf("memdevice: command buffer %d is not executable", ch)
	}
	c.state = commandStatePending
	q.pending = append(q.pending, ch)
	return nil
}

// QueueWaitIdle executes every command submitted to the queue.
func (d *Device) QueueWaitIdle(qh device.QueueHandle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.record(OpQueueWaitIdle, uint32(qh), 0); err != nil {
		return err
	}
	q, err := d.queue(qh)
	if err != nil {
		return err
	}
	pending := q.pending
	q.pending = nil
	for _, ch := range pending {
		c, err := d.commandBuffer(ch)
		if err != nil {
			return err
		}
		for _, cmd := range c.commands {
			if err := d.execute(cmd); err != nil {
				return err
			}
		}
		c.state = commandStateExecutable
	}
	return nil
}

func (d *Device) execute(cmd copyCommand) error {
	src, err := d.buffer(cmd.src)
	if err != nil {
		return err
	}
	dst, err := d.buffer(cmd.dst)
	if err != nil {
		return err
	}
	srcMem, err := d.allocation(src.memory)
	if err != nil {
		return err
	}
	dstMem, err := d.allocation(dst.memory)
	if err != nil {
		return err
	}
	for _, r := range cmd.regions {
		if r.Size > src.size || r.SrcOffset > src.size-r.Size || r.Size > dst.size || r.DstOffset > dst.size-r.Size {
			return errors.Newf("memdevice: copy region out of bounds (src %d, dst %d, size %d)", r.SrcOffset, r.DstOffset, r.Size)
		}
		s := src.offset + r.SrcOffset
		t := dst.offset + r.DstOffset
		copy(dstMem.data[t:t+r.Size], srcMem.data[s:s+r.Size])
	}
	return nil
}

func (d *Device) FreeCommandBuffer(pool device.CommandPoolHandle, ch device.CommandBufferHandle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	_ = d.record(OpFreeCommandBuffer, uint32(ch), uint32(pool))
	if c, err := d.commandBuffer(ch); err == nil && c.pool == pool {
		_ = d.objects.Release(uint32(ch))
	}
}
