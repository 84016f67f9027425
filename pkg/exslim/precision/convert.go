package precision

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"github.com/ukaji3/exslim-go/pkg/exslim/archive"
	"github.com/ukaji3/exslim-go/pkg/exslim/imaging"
	"github.com/ukaji3/exslim-go/pkg/exslim/parser"
)

// convert re-encodes every image of the source format as the target format,
// renaming the parts and retargeting every reference to them.
func (c *Cleaner) convert(ctx context.Context, a *archive.Archive, res *Result) error {
	from, to := c.opts.ConvertFrom, c.opts.ConvertTo
	if from == to {
		return nil
	}
	candidates := lo.Filter(imaging.ImageParts(a), func(name string, _ int) bool {
		p, _ := a.Part(name)
		return imaging.FormatOf(p.ContentType, name) == from
	})
	if len(candidates) == 0 {
		return nil
	}

	results := make([]imaging.Result, len(candidates))
	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(c.opts.Image.Workers)
	for i, name := range candidates {
		p, _ := a.Part(name)
		data := p.Data
		eg.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = imaging.Convert(name, data, from, to, c.opts.Image)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}

	sync := archive.NewSynchronizer(a)
	renamed := make(map[string]string)
	for _, r := range results {
		if !r.Changed() {
			res.Skipped = append(res.Skipped, r)
			if r.Err != nil {
				c.logger.Warn("image not converted", "part", r.Part, "reason", string(r.Skip), "error", r.Err)
			} else {
				c.logger.Debug("image not converted", "part", r.Part, "reason", string(r.Skip))
			}
			continue
		}

		newName := uniqueName(a, r.Part, to)
		if err := sync.ApplyRename(r.Part, newName, to.ContentType()); err != nil {
			return err
		}
		if err := a.PutPart(newName, r.Data, to.ContentType()); err != nil {
			return err
		}
		renamed[r.Part] = newName
		res.Conversions = append(res.Conversions, Conversion{From: r.Part, To: newName, Before: r.Before, After: r.After})
		c.logger.Debug("image converted", "from", r.Part, "to", newName, "before", r.Before, "after", r.After)
	}

	return verifyConverted(a, renamed, to)
}

// uniqueName picks <stem><ext> next to name, adding a counter when taken.
func uniqueName(a *archive.Archive, name string, to imaging.Format) string {
	dir, file := path.Split(name)
	stem := strings.TrimSuffix(file, path.Ext(file))
	candidate := dir + stem + to.Extension()
	for n := 1; a.Has(candidate); n++ {
		candidate = fmt.Sprintf("%s%s_%d%s", dir, stem, n, to.Extension())
	}
	return candidate
}

// verifyConverted checks that every drawing reference to a converted image
// resolves to an existing part of the new type, and that nothing still
// points at an old name.
func verifyConverted(a *archive.Archive, renamed map[string]string, to imaging.Format) error {
	if len(renamed) == 0 {
		return nil
	}
	touched := make(map[string]bool, 2*len(renamed))
	for oldName, newName := range renamed {
		touched[oldName] = true
		touched[newName] = true
	}

	pics, err := parser.ReadPictures(a)
	if err != nil {
		return err
	}
	for _, pic := range pics {
		if !touched[pic.Target] {
			continue
		}
		p, ok := a.Part(pic.Target)
		if !ok {
			return archive.Errorf(archive.KindReferenceIntegrity, pic.Drawing, "picture %s points at missing part %s", pic.RelID, pic.Target)
		}
		if p.ContentType != to.ContentType() {
			return archive.Errorf(archive.KindReferenceIntegrity, pic.Target, "content type %s, want %s", p.ContentType, to.ContentType())
		}
	}

	dangling, err := archive.NewSynchronizer(a).Dangling()
	if err != nil {
		return err
	}
	for _, d := range dangling {
		if target, _ := d.Resolve(); touched[target] {
			return archive.Errorf(archive.KindReferenceIntegrity, archive.RelsPath(d.Source), "relationship %s targets missing part %s", d.ID, d.Target)
		}
	}
	return nil
}
