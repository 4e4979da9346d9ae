// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package framegraph

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/pkg/errors"

	"github.com/gviegas/framegraph/driver"
	"github.com/gviegas/framegraph/internal/bitvec"
)

// cacheKind is the kind of a cached object.
// Kinds are destroyed in declaration order, so objects
// go before the objects they were created from.
type cacheKind int

const (
	kFramebuf cacheKind = iota
	kDescTable
	kView
	kDescHeap
	kRenderPass
	kImage
	kBuffer
	kSampler
	kindCount
)

type cacheKey struct {
	kind  cacheKind
	id    uint32
	usage driver.Usage
	sig   string
}

type cacheSlot struct {
	key      cacheKey
	obj      any
	external bool
}

// ResourcesCache creates backend objects on demand and
// keeps them across compiles of a graph.
// Objects are identified by the resource they realise
// and the usage inferred for it, so a recompile that
// uses a resource the same way reuses its object.
// Objects that a compile did not use are destroyed when
// the compile succeeds.
type ResourcesCache struct {
	gpu   driver.GPU
	keys  map[cacheKey]int
	slots []cacheSlot
	live  bitvec.V[uint64]
	used  bitvec.V[uint64]
	stats CacheStats
}

// CacheStats counts cache lookups.
type CacheStats struct {
	Hits   int
	Misses int
	Live   int
}

// LogValue implements slog.LogValuer.
func (s CacheStats) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("hits", s.Hits),
		slog.Int("misses", s.Misses),
		slog.Int("live", s.Live))
}

// NewResourcesCache creates an empty cache that creates
// objects from gpu.
func NewResourcesCache(gpu driver.GPU) *ResourcesCache {
	return &ResourcesCache{gpu: gpu, keys: make(map[cacheKey]int)}
}

// Stats returns the lookup statistics of c.
func (c *ResourcesCache) Stats() CacheStats {
	s := c.stats
	s.Live = c.live.Count()
	return s
}

// backendErr wraps an error returned by the driver.
func backendErr(err error, loc, op string) *GraphError {
	return &GraphError{Kind: BackendFailure, Loc: loc, Err: errors.Wrapf(err, "%s", op)}
}

// begin starts a compile.
func (c *ResourcesCache) begin() { c.used.Clear() }

func (c *ResourcesCache) get(k cacheKey, create func() (any, bool, error)) (any, error) {
	if i, ok := c.keys[k]; ok {
		c.used.Set(i)
		c.stats.Hits++
		return c.slots[i].obj, nil
	}
	obj, external, err := create()
	if err != nil {
		return nil, err
	}
	c.stats.Misses++
	if c.live.Rem() == 0 {
		c.live.Grow(1)
		c.used.Grow(1)
		c.slots = append(c.slots, make([]cacheSlot, c.live.Len()-len(c.slots))...)
	}
	i, _ := c.live.Search()
	c.live.Set(i)
	c.used.Set(i)
	c.slots[i] = cacheSlot{k, obj, external}
	c.keys[k] = i
	return obj, nil
}

// evict destroys the objects of kind k for which keep
// returns false.
func (c *ResourcesCache) evict(k cacheKind, keep func(i int) bool) {
	var is []int
	for i := range c.live.Ones() {
		if c.slots[i].key.kind == k && !keep(i) {
			is = append(is, i)
		}
	}
	for _, i := range is {
		s := &c.slots[i]
		if !s.external {
			s.obj.(driver.Destroyer).Destroy()
		}
		delete(c.keys, s.key)
		*s = cacheSlot{}
		c.live.Unset(i)
	}
}

// sweep destroys the objects that the current compile
// did not use.
func (c *ResourcesCache) sweep() {
	for k := range kindCount {
		c.evict(k, c.used.IsSet)
	}
}

// Destroy destroys every object in c.
func (c *ResourcesCache) Destroy() {
	none := func(int) bool { return false }
	for k := range kindCount {
		c.evict(k, none)
	}
}

// Image returns the object of img for the given usage.
func (c *ResourcesCache) Image(img ImageID, usg driver.Usage) (driver.Image, error) {
	d := img.Desc()
	usg |= d.Usage
	x, err := c.get(cacheKey{kind: kImage, id: img.Index(), usage: usg}, func() (any, bool, error) {
		im, err := c.gpu.NewImage(d.Format, d.Size, d.Layers, d.Levels, d.Samples, usg)
		if err != nil {
			return nil, false, backendErr(err, "image "+d.Name, "NewImage")
		}
		return im, false, nil
	})
	if err != nil {
		return nil, err
	}
	return x.(driver.Image), nil
}

// View returns the object of v. usg is the usage of the
// image of v.
func (c *ResourcesCache) View(v ViewID, usg driver.Usage) (driver.ImageView, error) {
	d := v.Desc()
	im, err := c.Image(d.Image, usg)
	if err != nil {
		return nil, err
	}
	usg |= d.Image.Desc().Usage
	x, err := c.get(cacheKey{kind: kView, id: v.Index(), usage: usg}, func() (any, bool, error) {
		r := d.Range
		iv, err := im.NewView(d.Type.driverType(), r.BaseLayer, r.Layers, r.BaseLevel, r.Levels)
		if err != nil {
			return nil, false, backendErr(err, "view of image "+d.Image.Desc().Name, "NewView")
		}
		return iv, false, nil
	})
	if err != nil {
		return nil, err
	}
	return x.(driver.ImageView), nil
}

// Buffer returns the object of b for the given usage.
// A buffer with an external handle is returned as is.
// If init is not nil, it is called on new objects.
func (c *ResourcesCache) Buffer(b BufferID, usg driver.Usage, init func(driver.Buffer) error) (driver.Buffer, error) {
	d := b.Desc()
	x, err := c.get(cacheKey{kind: kBuffer, id: b.Index(), usage: usg}, func() (any, bool, error) {
		if d.Handle != nil {
			return d.Handle, true, nil
		}
		buf, err := c.gpu.NewBuffer(d.Size, d.Visible || d.vbo.valid(), usg)
		if err != nil {
			return nil, false, backendErr(err, "buffer "+d.Name, "NewBuffer")
		}
		if init != nil {
			if err := init(buf); err != nil {
				buf.Destroy()
				return nil, false, err
			}
		}
		return buf, false, nil
	})
	if err != nil {
		return nil, err
	}
	return x.(driver.Buffer), nil
}

// Sampler returns the object of s.
func (c *ResourcesCache) Sampler(s SamplerID) (driver.Sampler, error) {
	x, err := c.get(cacheKey{kind: kSampler, id: s.Index()}, func() (any, bool, error) {
		d := s.Desc()
		splr, err := c.gpu.NewSampler(&d)
		if err != nil {
			return nil, false, backendErr(err, "sampler", "NewSampler")
		}
		return splr, false, nil
	})
	if err != nil {
		return nil, err
	}
	return x.(driver.Sampler), nil
}

// renderPassSig identifies a render pass description.
func renderPassSig(att []driver.Attachment, sub driver.Subpass) string {
	return fmt.Sprintf("%v|%v %d %v", att, sub.Color, sub.DS, sub.MSR)
}

// RenderPass returns a render pass with a single subpass.
func (c *ResourcesCache) RenderPass(att []driver.Attachment, sub driver.Subpass) (driver.RenderPass, error) {
	sig := renderPassSig(att, sub)
	x, err := c.get(cacheKey{kind: kRenderPass, sig: sig}, func() (any, bool, error) {
		rp, err := c.gpu.NewRenderPass(att, []driver.Subpass{sub})
		if err != nil {
			return nil, false, backendErr(err, "", "NewRenderPass")
		}
		return rp, false, nil
	})
	if err != nil {
		return nil, err
	}
	return x.(driver.RenderPass), nil
}

// Framebuf returns a framebuffer of the render pass that
// RenderPass returned for att and sub.
// views must have been returned by View for viewIDs.
func (c *ResourcesCache) Framebuf(att []driver.Attachment, sub driver.Subpass, viewIDs []ViewID, views []driver.ImageView, width, height, layers int) (driver.Framebuf, error) {
	rp, err := c.RenderPass(att, sub)
	if err != nil {
		return nil, err
	}
	var sb strings.Builder
	sb.WriteString(renderPassSig(att, sub))
	for _, v := range viewIDs {
		fmt.Fprintf(&sb, "|%d", v.Index())
	}
	fmt.Fprintf(&sb, "|%dx%dx%d", width, height, layers)
	x, err := c.get(cacheKey{kind: kFramebuf, sig: sb.String()}, func() (any, bool, error) {
		fb, err := rp.NewFB(views, width, height, layers)
		if err != nil {
			return nil, false, backendErr(err, "", "NewFB")
		}
		return fb, false, nil
	})
	if err != nil {
		return nil, err
	}
	return x.(driver.Framebuf), nil
}

// DescHeap returns a descriptor heap identified by name
// and the descriptors it holds.
func (c *ResourcesCache) DescHeap(name string, ds []driver.Descriptor) (driver.DescHeap, error) {
	sig := fmt.Sprintf("%s|%v", name, ds)
	x, err := c.get(cacheKey{kind: kDescHeap, sig: sig}, func() (any, bool, error) {
		h, err := c.gpu.NewDescHeap(slices.Clone(ds))
		if err != nil {
			return nil, false, backendErr(err, name, "NewDescHeap")
		}
		return h, false, nil
	})
	if err != nil {
		return nil, err
	}
	return x.(driver.DescHeap), nil
}

// DescTable returns a descriptor table identified by
// name. heaps must have been returned by DescHeap.
func (c *ResourcesCache) DescTable(name string, heaps []driver.DescHeap) (driver.DescTable, error) {
	var sb strings.Builder
	sb.WriteString(name)
	for _, h := range heaps {
		fmt.Fprintf(&sb, "|%d", c.keys[c.keyOf(h)])
	}
	x, err := c.get(cacheKey{kind: kDescTable, sig: sb.String()}, func() (any, bool, error) {
		t, err := c.gpu.NewDescTable(slices.Clone(heaps))
		if err != nil {
			return nil, false, backendErr(err, name, "NewDescTable")
		}
		return t, false, nil
	})
	if err != nil {
		return nil, err
	}
	return x.(driver.DescTable), nil
}

// keyOf returns the key of a cached object.
func (c *ResourcesCache) keyOf(obj any) cacheKey {
	for i := range c.live.Ones() {
		if c.slots[i].obj == obj {
			return c.slots[i].key
		}
	}
	return cacheKey{}
}
