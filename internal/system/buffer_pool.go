package system

import (
	"image"
	"sync"
)

// ImagePool reuses *image.RGBA buffers keyed by their bounds to keep the
// garbage collector quiet while frames are rendered.
type ImagePool struct {
	pools map[string]*sync.Pool
	mu    sync.RWMutex
}

// globalPool is the shared pool used by NewScope and nil *ImagePool receivers.
var globalPool = NewImagePool()

func NewImagePool() *ImagePool {
	return &ImagePool{pools: make(map[string]*sync.Pool)}
}

// Get returns a transparent buffer with the given bounds.
func (p *ImagePool) Get(rect image.Rectangle) *image.RGBA {
	key := rect.String()
	p.mu.RLock()
	pool, exists := p.pools[key]
	p.mu.RUnlock()

	if !exists {
		p.mu.Lock()
		pool, exists = p.pools[key]
		if !exists {
			pool = &sync.Pool{
				New: func() any {
					return image.NewRGBA(rect)
				},
			}
			p.pools[key] = pool
		}
		p.mu.Unlock()
	}

	img := pool.Get().(*image.RGBA)
	clear(img.Pix)
	return img
}

func (p *ImagePool) Put(img *image.RGBA) {
	if img == nil {
		return
	}
	key := img.Rect.String()
	p.mu.RLock()
	pool, exists := p.pools[key]
	p.mu.RUnlock()

	if exists {
		pool.Put(img)
	}
}

// Scope tracks every buffer acquired while one slide is processed so they
// can be returned together once its segment has been encoded.
type Scope struct {
	pool *ImagePool

	mu       sync.Mutex
	held     []*image.RGBA
	acquired int
}

// NewScope opens a scope on p. A nil pool uses the shared one.
func (p *ImagePool) NewScope() *Scope {
	if p == nil {
		p = globalPool
	}
	return &Scope{pool: p}
}

// NewScope opens a scope on the shared pool.
func NewScope() *Scope {
	return globalPool.NewScope()
}

// Acquire returns a cleared buffer owned by the scope. A nil scope
// allocates without pooling.
func (s *Scope) Acquire(rect image.Rectangle) *image.RGBA {
	if s == nil {
		return image.NewRGBA(rect)
	}
	img := s.pool.Get(rect)
	s.mu.Lock()
	s.held = append(s.held, img)
	s.acquired++
	s.mu.Unlock()
	return img
}

// Acquired reports how many buffers the scope has handed out.
func (s *Scope) Acquired() int {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.acquired
}

// Release returns every held buffer to the pool. Images obtained from the
// scope must not be used afterwards. Release is idempotent.
func (s *Scope) Release() {
	if s == nil {
		return
	}
	s.mu.Lock()
	held := s.held
	s.held = nil
	s.mu.Unlock()

	for _, img := range held {
		s.pool.Put(img)
	}
}
