package textgan

import (
	"encoding/gob"
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// SaveParams Writes every parameter (name -> value) into w
func SaveParams(w io.Writer, p *Params) error {
	values := make(map[string]*tensor.Dense, len(p.order))
	for _, name := range p.order {
		values[name] = p.values[name]
	}
	if err := gob.NewEncoder(w).Encode(values); err != nil {
		return errors.Wrap(err, "Can't encode parameters")
	}
	return nil
}

// LoadParams Reads parameters written by SaveParams into p. Stored names must match names registered in p exactly, shapes included.
// Loaded values are copied into existing storage, so graphs already bound to p see them immediately
func LoadParams(r io.Reader, p *Params) error {
	values := make(map[string]*tensor.Dense)
	if err := gob.NewDecoder(r).Decode(&values); err != nil {
		return errors.Wrap(err, "Can't decode parameters")
	}
	for _, name := range p.order {
		if _, ok := values[name]; !ok {
			return errors.Wrapf(ErrConfigurationMismatch, "parameter '%s' is missing in stored values", name)
		}
	}
	for name, v := range values {
		dst, ok := p.values[name]
		if !ok {
			return errors.Wrapf(ErrConfigurationMismatch, "unknown parameter '%s'", name)
		}
		if !dst.Shape().Eq(v.Shape()) {
			return errors.Wrapf(ErrShapeMismatch, "parameter '%s' is %v, but stored value is %v", name, dst.Shape(), v.Shape())
		}
	}
	for name, v := range values {
		copy(p.values[name].Float64s(), v.Float64s())
	}
	return p.rebind()
}

// SaveParamsFile Same as SaveParams, but writes into file
func SaveParamsFile(fname string, p *Params) error {
	f, err := os.Create(fname)
	if err != nil {
		return errors.Wrap(err, fmt.Sprintf("Can't create file '%s'", fname))
	}
	if err := SaveParams(f, p); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// LoadParamsFile Same as LoadParams, but reads from file
func LoadParamsFile(fname string, p *Params) error {
	f, err := os.Open(fname)
	if err != nil {
		return errors.Wrap(err, fmt.Sprintf("Can't open file '%s'", fname))
	}
	defer f.Close()
	return LoadParams(f, p)
}
