package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chaos-orm/internal/conventions"
	"chaos-orm/internal/dialect"
	"chaos-orm/internal/metadata"
	"chaos-orm/internal/record"
)

// galleryWith loads the gallery schema after letting edit adjust the
// declared entities.
func galleryWith(t *testing.T, edit func(map[string]*metadata.Entity)) *metadata.Registry {
	t.Helper()
	entities, err := metadata.LoadFile("../metadata/testdata/gallery.yaml")
	require.NoError(t, err)
	byName := make(map[string]*metadata.Entity, len(entities))
	for _, e := range entities {
		byName[e.Name] = e
	}
	edit(byName)
	reg := metadata.NewRegistry()
	require.NoError(t, reg.Load(entities, conventions.New()))
	return reg
}

func tagIDs(mem *memory, imageID int) []any {
	var out []any
	for _, row := range mem.table("images_tags").rows {
		if same(row.Get("image_id"), imageID) {
			out = append(out, row.Get("tag_id"))
		}
	}
	return out
}

func TestSaveThroughDiff(t *testing.T) {
	ctx := context.Background()
	reg := loadGallery(t)
	mem := galleryFixture(t, reg)

	image := fetchAll(t, mem, "image", dialect.M("id", 4))[0]
	tags := fetchAll(t, mem, "tag", dialect.M("id", []any{6, 3, 2}))
	image.Set("tags", record.Collection{tags[2], tags[1], tags[0]})

	res, err := NewWriter(reg, mem).Persist(ctx, image)
	require.NoError(t, err)
	require.True(t, res.OK(), res.Err())

	assert.Equal(t, 4, res.Count("save"))
	assert.Equal(t, 1, res.Count("create"))
	assert.Equal(t, 1, res.Count("remove"))
	assert.Equal(t, []any{6, 3, 2}, tagIDs(mem, 4))
	assert.NotContains(t, mem.table("images_tags").column("id"), 7)
	assert.False(t, image.Has("images_tags"))

	// Links of the other images are untouched.
	assert.Equal(t, []any{1, 3}, tagIDs(mem, 1))
}

func TestSaveThroughDiffLeavesLoadedPivots(t *testing.T) {
	ctx := context.Background()
	reg := loadGallery(t)
	mem := galleryFixture(t, reg)

	image := fetchAll(t, mem, "image", dialect.M("id", 4))[0]
	rel, err := reg.Relation("image", "tags")
	require.NoError(t, err)
	_, err = NewLoader(reg, mem).Embed(ctx, record.Collection{image}, rel, EmbedOptions{})
	require.NoError(t, err)
	require.True(t, image.Attached("images_tags"))

	tags := image.Related("tags")
	sport := fetchAll(t, mem, "tag", dialect.M("id", 2))[0]
	image.Set("tags", record.Collection{tags[0], tags[1], sport})

	res, err := NewWriter(reg, mem).Persist(ctx, image)
	require.NoError(t, err)
	require.True(t, res.OK(), res.Err())

	var pivotWrites []string
	for _, o := range res.Outcomes {
		if o.Entity == "images_tags" {
			pivotWrites = append(pivotWrites, o.Action)
		}
	}
	assert.Equal(t, []string{"create", "remove"}, pivotWrites)
	assert.Equal(t, []any{6, 3, 2}, tagIDs(mem, 4))
}

func TestSaveNilRelationIsNoop(t *testing.T) {
	ctx := context.Background()
	reg := loadGallery(t)
	mem := galleryFixture(t, reg)
	w := NewWriter(reg, mem)

	gallery := fetchAll(t, mem, "gallery", dialect.M("id", 1))[0]
	gallery.Set("images", nil)
	res, err := w.Persist(ctx, gallery)
	require.NoError(t, err)
	assert.Equal(t, 1, len(res.Outcomes))
	assert.Len(t, fetchAll(t, mem, "image", dialect.M("gallery_id", 1)), 3)

	gallery.Set("images", record.Collection(nil))
	rel, err := reg.Relation("gallery", "images")
	require.NoError(t, err)
	res, err = w.Save(ctx, gallery, rel)
	require.NoError(t, err)
	assert.Empty(t, res.Outcomes)

	image := fetchAll(t, mem, "image", dialect.M("id", 4))[0]
	image.Set("tags", nil)
	res, err = w.Persist(ctx, image)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Count("remove"))
	assert.Equal(t, []any{6, 3, 1}, tagIDs(mem, 4))
}

func TestSaveThroughDiffCreatesTargets(t *testing.T) {
	ctx := context.Background()
	reg := loadGallery(t)
	mem := galleryFixture(t, reg)

	image := fetchAll(t, mem, "image", dialect.M("id", 2))[0]
	science := fetchAll(t, mem, "tag", dialect.M("id", 5))[0]
	deco := record.New("tag", map[string]any{"name": "Art Deco"})
	image.Set("tags", record.Collection{science, deco})

	res, err := NewWriter(reg, mem).Persist(ctx, image)
	require.NoError(t, err)
	require.True(t, res.OK(), res.Err())

	assert.True(t, deco.Exists())
	assert.Equal(t, 7, deco.Get("id"))
	assert.Equal(t, []any{5, 7}, tagIDs(mem, 2))
	assert.Zero(t, res.Count("remove"))
}

func TestSaveThroughFlush(t *testing.T) {
	ctx := context.Background()
	reg := galleryWith(t, func(e map[string]*metadata.Entity) {
		for i := range e["image"].Relations {
			if e["image"].Relations[i].Name == "tags" {
				e["image"].Relations[i].Mode = metadata.ModeFlush
			}
		}
	})
	mem := galleryFixture(t, reg)

	image := fetchAll(t, mem, "image", dialect.M("id", 4))[0]
	tags := fetchAll(t, mem, "tag", dialect.M("id", []any{1, 2}))
	image.Set("tags", record.Collection{tags[0], tags[1], record.New("tag", map[string]any{"name": "Retro"})})

	res, err := NewWriter(reg, mem).Persist(ctx, image)
	require.NoError(t, err)
	require.True(t, res.OK(), res.Err())

	assert.Equal(t, 1, res.Count("remove"))
	assert.Equal(t, 3, res.Count("create"))
	assert.Equal(t, []any{1, 2, 7}, tagIDs(mem, 4))
	assert.Equal(t, []any{8, 9, 10}, mem.table("images_tags").column("id")[4:])
}

func TestSaveThroughFlushStopsWhenRemoveFails(t *testing.T) {
	ctx := context.Background()
	reg := galleryWith(t, func(e map[string]*metadata.Entity) {
		for i := range e["image"].Relations {
			if e["image"].Relations[i].Name == "tags" {
				e["image"].Relations[i].Mode = metadata.ModeFlush
			}
		}
	})
	mem := galleryFixture(t, reg)
	boom := errors.New("boom")
	mem.table("images_tags").fail = boom

	image := fetchAll(t, mem, "image", dialect.M("id", 4))[0]
	image.Set("tags", fetchAll(t, mem, "tag", dialect.M("id", 2)))

	res, err := NewWriter(reg, mem).Persist(ctx, image)
	require.NoError(t, err)
	assert.False(t, res.OK())
	assert.ErrorIs(t, res.Err(), boom)
	assert.Zero(t, res.Count("create"))
	assert.Equal(t, []any{6, 3, 1}, tagIDs(mem, 4))
}

func TestSaveAccumulatesFailures(t *testing.T) {
	ctx := context.Background()
	reg := loadGallery(t)
	mem := galleryFixture(t, reg)
	boom := errors.New("boom")
	mem.table("tag").fail = boom

	image := fetchAll(t, mem, "image", dialect.M("id", 1))[0]
	tags := fetchAll(t, mem, "tag", dialect.M("id", []any{1, 2}))
	image.Set("tags", tags)

	res, err := NewWriter(reg, mem).Persist(ctx, image)
	require.NoError(t, err)
	assert.False(t, res.OK())
	assert.ErrorIs(t, res.Err(), boom)

	var failed int
	for _, o := range res.Outcomes {
		if o.Err != nil {
			failed++
		}
	}
	assert.Equal(t, 2, failed)
	// The existing link survives, the stale one is removed.
	assert.Equal(t, []any{1}, tagIDs(mem, 1))
}

func TestSaveHasMany(t *testing.T) {
	ctx := context.Background()
	reg := loadGallery(t)
	mem := galleryFixture(t, reg)

	gallery := fetchAll(t, mem, "gallery", dialect.M("id", 1))[0]
	amiga := fetchAll(t, mem, "image", dialect.M("id", 1))[0]
	fresh := record.New("image", map[string]any{"name": "fresh.jpg"})
	gallery.Set("images", record.Collection{amiga, fresh})

	res, err := NewWriter(reg, mem).Persist(ctx, gallery)
	require.NoError(t, err)
	require.True(t, res.OK(), res.Err())

	assert.Equal(t, 1, fresh.Get("gallery_id"))
	assert.Equal(t, 2, res.Count("update"))

	images := fetchAll(t, mem, "image", dialect.M("gallery_id", 1))
	assert.Equal(t, []any{1, 6}, images.Values("id"))
	unlinked := fetchAll(t, mem, "image", dialect.M("id", []any{2, 3}))
	assert.Equal(t, []any{nil, nil}, unlinked.Values("gallery_id"))
}

func TestSaveHasManyJunction(t *testing.T) {
	ctx := context.Background()
	reg := loadGallery(t)
	mem := galleryFixture(t, reg)

	image := fetchAll(t, mem, "image", dialect.M("id", 1))[0]
	image.Set("images_tags", fetchAll(t, mem, "images_tags", dialect.M("id", 1)))

	res, err := NewWriter(reg, mem).Persist(ctx, image)
	require.NoError(t, err)
	require.True(t, res.OK(), res.Err())

	assert.Equal(t, 1, res.Count("delete"))
	assert.Equal(t, []any{1}, tagIDs(mem, 1))
}

func TestSaveBelongsTo(t *testing.T) {
	ctx := context.Background()
	reg := loadGallery(t)
	mem := galleryFixture(t, reg)

	gallery := record.New("gallery", map[string]any{"name": "New Gallery"})
	image := record.New("image", map[string]any{"name": "cover.jpg", "gallery": gallery})

	res, err := NewWriter(reg, mem).Persist(ctx, image)
	require.NoError(t, err)
	require.True(t, res.OK(), res.Err())

	require.Len(t, res.Outcomes, 2)
	assert.Equal(t, "gallery", res.Outcomes[0].Entity)
	assert.Equal(t, "image", res.Outcomes[1].Entity)
	assert.Equal(t, 3, gallery.Get("id"))
	assert.Equal(t, 3, image.Get("gallery_id"))
}

func TestSaveHasOne(t *testing.T) {
	ctx := context.Background()
	reg := galleryWith(t, func(e map[string]*metadata.Entity) {
		e["gallery"].Relations = append(e["gallery"].Relations, metadata.RelationConfig{
			Kind: metadata.HasOne,
			Name: "cover",
			To:   "image",
		})
	})
	mem := galleryFixture(t, reg)

	gallery := fetchAll(t, mem, "gallery", dialect.M("id", 2))[0]
	cover := record.New("image", map[string]any{"name": "cover.jpg"})
	gallery.Set("cover", cover)

	rel, err := reg.Relation("gallery", "cover")
	require.NoError(t, err)
	res, err := NewWriter(reg, mem).Save(ctx, gallery, rel)
	require.NoError(t, err)
	require.True(t, res.OK(), res.Err())

	assert.Equal(t, 2, cover.Get("gallery_id"))
	assert.True(t, cover.Exists())

	// Nothing attached is a no-op.
	gallery.Set("cover", (*record.Record)(nil))
	res, err = NewWriter(reg, mem).Save(ctx, gallery, rel)
	require.NoError(t, err)
	assert.Empty(t, res.Outcomes)
}

func TestValidateGraph(t *testing.T) {
	ctx := context.Background()
	reg := loadGallery(t)
	mem := galleryFixture(t, reg)

	gallery := record.New("gallery", nil)
	gallery.Set("images", record.Collection{
		record.New("image", map[string]any{"name": "ok.jpg"}),
		record.New("image", map[string]any{"name": "bad.jpg", "score": -1.0}),
	})

	res, err := NewWriter(reg, mem).Persist(ctx, gallery)
	require.Error(t, err)
	assert.Nil(t, res)

	var appErr *AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "VALIDATION_FAILED", appErr.Code)
	require.Len(t, appErr.Details, 2)
	assert.Equal(t, "name", appErr.Details[0].Field)
	assert.Equal(t, "required", appErr.Details[0].Rule)
	assert.Equal(t, "images[1]", appErr.Details[1].Field)
	assert.Equal(t, "score must not be negative", appErr.Details[1].Message)

	// Nothing was written.
	assert.Len(t, mem.table("gallery").rows, 2)
	assert.Len(t, mem.table("image").rows, 5)
}

func TestResult(t *testing.T) {
	var res Result
	res.add("tag", "save", 1, nil)
	assert.True(t, res.OK())
	assert.NoError(t, res.Err())

	other := &Result{}
	other.add("images_tags", "create", nil, errors.New("boom"))
	res.Merge(other)
	res.Merge(nil)

	assert.False(t, res.OK())
	assert.EqualError(t, res.Err(), "create images_tags: boom")
	assert.Equal(t, 1, res.Count("save"))
	assert.Equal(t, "save tag 1", res.Outcomes[0].String())
}
