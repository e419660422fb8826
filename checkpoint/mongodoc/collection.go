package mongodoc

import (
	"context"

	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// collection narrows *mongodriver.Collection to the operations Store uses,
// mirroring the teacher's features/run/mongo/clients/mongo.collection
// wrapper so unit tests can fake Mongo without a live server.
type collection interface {
	InsertOne(ctx context.Context, document any) (*mongodriver.InsertOneResult, error)
	FindOne(ctx context.Context, filter any, opts ...options.Lister[options.FindOneOptions]) singleResult
	DeleteMany(ctx context.Context, filter any) (*mongodriver.DeleteResult, error)
	Indexes() indexView
}

type indexView interface {
	CreateOne(ctx context.Context, model mongodriver.IndexModel) (string, error)
}

type singleResult interface {
	Decode(val any) error
}

type mongoCollection struct {
	coll *mongodriver.Collection
}

func (c mongoCollection) InsertOne(ctx context.Context, document any) (*mongodriver.InsertOneResult, error) {
	return c.coll.InsertOne(ctx, document)
}

func (c mongoCollection) FindOne(ctx context.Context, filter any, opts ...options.Lister[options.FindOneOptions]) singleResult {
	return mongoSingleResult{res: c.coll.FindOne(ctx, filter, opts...)}
}

func (c mongoCollection) DeleteMany(ctx context.Context, filter any) (*mongodriver.DeleteResult, error) {
	return c.coll.DeleteMany(ctx, filter)
}

func (c mongoCollection) Indexes() indexView {
	return mongoIndexView{view: c.coll.Indexes()}
}

type mongoSingleResult struct {
	res *mongodriver.SingleResult
}

func (r mongoSingleResult) Decode(val any) error {
	return r.res.Decode(val)
}

type mongoIndexView struct {
	view mongodriver.IndexView
}

func (v mongoIndexView) CreateOne(ctx context.Context, model mongodriver.IndexModel) (string, error) {
	return v.view.CreateOne(ctx, model)
}
