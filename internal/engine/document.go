package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"querygate/internal/config"
	"querygate/internal/domain"
	"querygate/internal/registry"
)

// DocumentDriver parses the restricted operation syntax and executes it
// against a document-store collection, enforcing the configured row cap on
// reads.
type DocumentDriver struct {
	cfg       config.EngineConfig
	registry  *registry.Registry
	instances domain.InstanceResolver
	logger    *slog.Logger
}

// NewDocumentDriver creates a DocumentDriver using the shared registry.
func NewDocumentDriver(cfg config.EngineConfig, reg *registry.Registry, instances domain.InstanceResolver, logger *slog.Logger) *DocumentDriver {
	if logger == nil {
		logger = slog.Default()
	}
	return &DocumentDriver{cfg: cfg, registry: reg, instances: instances, logger: logger}
}

// Validate applies the shared length/emptiness checks and flags destructive
// method calls. Warnings are advisory only.
func (d *DocumentDriver) Validate(text string) ([]domain.Warning, error) {
	if err := checkQueryText(text, d.cfg.MaxQueryLength); err != nil {
		return nil, err
	}
	if !d.cfg.DangerousChecks {
		return nil, nil
	}
	return documentWarnings(text), nil
}

// Execute parses the request text and dispatches the operation to the
// corresponding collection-level call.
func (d *DocumentDriver) Execute(ctx context.Context, req domain.ExecutionRequest) (*domain.ExecutionResult, error) {
	warnings, err := d.Validate(req.Query)
	if err != nil {
		return nil, err
	}

	op, err := ParseQuery(req.Query)
	if err != nil {
		return nil, err
	}

	inst, err := d.instances.ResolveInstance(ctx, req.InstanceID)
	if err != nil {
		return nil, err
	}
	if inst.Protocol != domain.ProtocolDocument {
		return nil, domain.ErrValidation("instance %q is a %s target, not document", inst.ID, inst.Protocol)
	}
	if !inst.HasDatabase(req.Database) {
		return nil, domain.ErrValidation("database %q is not reachable on instance %q", req.Database, inst.ID)
	}

	client, err := d.registry.DocumentClient(ctx, inst)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	db := client.Database(req.Database)

	result := &domain.ExecutionResult{Protocol: domain.ProtocolDocument, Warnings: warnings}

	if op.RawCommand != nil {
		var raw bson.M
		if err := db.RunCommand(ctx, op.RawCommand).Decode(&raw); err != nil {
			return nil, documentExecError("run command", err)
		}
		result.Raw = raw
		result.DocumentCount = 1
	} else if err := d.dispatch(ctx, db.Collection(op.Collection), op, result); err != nil {
		return nil, err
	}

	result.DurationMs = time.Since(start).Milliseconds()
	return result, nil
}

// dispatch routes a parsed collection call to the driver method it names.
// Unsupported method names fail here, not at parse time.
func (d *DocumentDriver) dispatch(ctx context.Context, coll *mongo.Collection, op *ParsedOperation, result *domain.ExecutionResult) error {
	switch op.Method {
	case "find":
		opts := options.Find().SetLimit(int64(d.cfg.MaxRows))
		if proj := argAt(op.Args, 1); proj != nil {
			opts.SetProjection(proj)
		}
		cursor, err := coll.Find(ctx, filterArg(op.Args, 0), opts)
		if err != nil {
			return documentExecError("find", err)
		}
		docs, err := drainCursor(ctx, cursor)
		if err != nil {
			return documentExecError("find", err)
		}
		result.Raw = docs
		result.DocumentCount = len(docs)
		result.Truncated = len(docs) == d.cfg.MaxRows

	case "findOne":
		var doc bson.M
		err := coll.FindOne(ctx, filterArg(op.Args, 0)).Decode(&doc)
		if errors.Is(err, mongo.ErrNoDocuments) {
			result.Raw = nil
			result.DocumentCount = 0
			return nil
		}
		if err != nil {
			return documentExecError("findOne", err)
		}
		result.Raw = doc
		result.DocumentCount = 1

	case "aggregate":
		pipeline, capped := d.capPipeline(op.Args)
		aggOpts, err := aggregateOptions(argAt(op.Args, 1))
		if err != nil {
			return err
		}
		cursor, err := coll.Aggregate(ctx, pipeline, aggOpts)
		if err != nil {
			return documentExecError("aggregate", err)
		}
		docs, err := drainCursor(ctx, cursor)
		if err != nil {
			return documentExecError("aggregate", err)
		}
		result.Raw = docs
		result.DocumentCount = len(docs)
		result.Truncated = capped && len(docs) == d.cfg.MaxRows

	case "countDocuments":
		n, err := coll.CountDocuments(ctx, filterArg(op.Args, 0))
		if err != nil {
			return documentExecError("countDocuments", err)
		}
		result.Raw = bson.M{"count": n}
		result.DocumentCount = 1

	case "distinct":
		field, ok := argAt(op.Args, 0).(string)
		if !ok {
			return domain.ErrValidation("distinct requires a field name as its first argument")
		}
		values, err := coll.Distinct(ctx, field, filterArg(op.Args, 1))
		if err != nil {
			return documentExecError("distinct", err)
		}
		result.Raw = values
		result.DocumentCount = len(values)

	case "insertOne":
		doc := argAt(op.Args, 0)
		if doc == nil {
			return domain.ErrValidation("insertOne requires a document argument")
		}
		res, err := coll.InsertOne(ctx, doc)
		if err != nil {
			return documentExecError("insertOne", err)
		}
		result.Raw = bson.M{"insertedId": res.InsertedID}
		result.DocumentCount = 1

	case "insertMany":
		docs, ok := argAt(op.Args, 0).([]any)
		if !ok {
			return domain.ErrValidation("insertMany requires an array of documents")
		}
		res, err := coll.InsertMany(ctx, docs)
		if err != nil {
			return documentExecError("insertMany", err)
		}
		result.Raw = bson.M{"insertedIds": res.InsertedIDs}
		result.DocumentCount = len(res.InsertedIDs)

	case "updateOne", "updateMany":
		update := argAt(op.Args, 1)
		if update == nil {
			return domain.ErrValidation("%s requires filter and update arguments", op.Method)
		}
		updOpts, err := updateOptions(op.Method, argAt(op.Args, 2))
		if err != nil {
			return err
		}
		var res *mongo.UpdateResult
		if op.Method == "updateOne" {
			res, err = coll.UpdateOne(ctx, filterArg(op.Args, 0), update, updOpts)
		} else {
			res, err = coll.UpdateMany(ctx, filterArg(op.Args, 0), update, updOpts)
		}
		if err != nil {
			return documentExecError(op.Method, err)
		}
		result.Raw = bson.M{
			"matchedCount":  res.MatchedCount,
			"modifiedCount": res.ModifiedCount,
			"upsertedCount": res.UpsertedCount,
		}
		result.DocumentCount = int(res.ModifiedCount)

	case "replaceOne":
		replacement := argAt(op.Args, 1)
		if replacement == nil {
			return domain.ErrValidation("replaceOne requires filter and replacement arguments")
		}
		replOpts, err := replaceOptions(argAt(op.Args, 2))
		if err != nil {
			return err
		}
		res, err := coll.ReplaceOne(ctx, filterArg(op.Args, 0), replacement, replOpts)
		if err != nil {
			return documentExecError("replaceOne", err)
		}
		result.Raw = bson.M{"matchedCount": res.MatchedCount, "modifiedCount": res.ModifiedCount}
		result.DocumentCount = int(res.ModifiedCount)

	case "deleteOne", "deleteMany":
		var res *mongo.DeleteResult
		var err error
		if op.Method == "deleteOne" {
			res, err = coll.DeleteOne(ctx, filterArg(op.Args, 0))
		} else {
			res, err = coll.DeleteMany(ctx, filterArg(op.Args, 0))
		}
		if err != nil {
			return documentExecError(op.Method, err)
		}
		result.Raw = bson.M{"deletedCount": res.DeletedCount}
		result.DocumentCount = int(res.DeletedCount)

	case "drop", "dropCollection":
		// dropCollection is the database-level spelling of the same
		// operation; both remove the named collection.
		if err := coll.Drop(ctx); err != nil {
			return documentExecError(op.Method, err)
		}
		result.Raw = bson.M{"dropped": coll.Name()}
		result.DocumentCount = 1

	default:
		return domain.ErrValidation("unsupported method %q on collection %q", op.Method, op.Collection)
	}
	return nil
}

// capPipeline appends a $limit stage at the configured row cap unless the
// caller's pipeline already declares a $limit, $out, or $merge stage anywhere.
// An explicit output or limit stage is respected even when its value exceeds
// the cap.
func (d *DocumentDriver) capPipeline(args []any) (pipeline []any, capped bool) {
	raw, _ := argAt(args, 0).([]any)
	pipeline = append(pipeline, raw...)

	for _, stage := range pipeline {
		m, ok := stage.(map[string]any)
		if !ok {
			continue
		}
		for key := range m {
			if key == "$limit" || key == "$out" || key == "$merge" {
				return pipeline, false
			}
		}
	}
	return append(pipeline, map[string]any{"$limit": d.cfg.MaxRows}), true
}

// optionFields decodes a positional options argument. A missing argument is
// fine; anything other than a document is not.
func optionFields(method string, arg any) (map[string]any, error) {
	if arg == nil {
		return nil, nil
	}
	m, ok := arg.(map[string]any)
	if !ok {
		return nil, domain.ErrValidation("%s options must be a document", method)
	}
	return m, nil
}

// aggregateOptions translates the supported aggregate options. Unrecognized
// options are rejected rather than silently dropped.
func aggregateOptions(arg any) (*options.AggregateOptions, error) {
	opts := options.Aggregate()
	fields, err := optionFields("aggregate", arg)
	if err != nil {
		return nil, err
	}
	for key, v := range fields {
		switch key {
		case "allowDiskUse":
			b, ok := v.(bool)
			if !ok {
				return nil, domain.ErrValidation("aggregate option allowDiskUse must be a boolean")
			}
			opts.SetAllowDiskUse(b)
		default:
			return nil, domain.ErrValidation("unsupported aggregate option %q", key)
		}
	}
	return opts, nil
}

// updateOptions translates the supported updateOne/updateMany options.
func updateOptions(method string, arg any) (*options.UpdateOptions, error) {
	opts := options.Update()
	fields, err := optionFields(method, arg)
	if err != nil {
		return nil, err
	}
	for key, v := range fields {
		switch key {
		case "upsert":
			b, ok := v.(bool)
			if !ok {
				return nil, domain.ErrValidation("%s option upsert must be a boolean", method)
			}
			opts.SetUpsert(b)
		default:
			return nil, domain.ErrValidation("unsupported %s option %q", method, key)
		}
	}
	return opts, nil
}

// replaceOptions translates the supported replaceOne options.
func replaceOptions(arg any) (*options.ReplaceOptions, error) {
	opts := options.Replace()
	fields, err := optionFields("replaceOne", arg)
	if err != nil {
		return nil, err
	}
	for key, v := range fields {
		switch key {
		case "upsert":
			b, ok := v.(bool)
			if !ok {
				return nil, domain.ErrValidation("replaceOne option upsert must be a boolean")
			}
			opts.SetUpsert(b)
		default:
			return nil, domain.ErrValidation("unsupported replaceOne option %q", key)
		}
	}
	return opts, nil
}

// TestConnection pings the instance and reports latency. Failures are
// reported, not thrown.
func (d *DocumentDriver) TestConnection(ctx context.Context, inst *domain.TargetInstance) *domain.ConnectionTestResult {
	start := time.Now()
	client, err := d.registry.DocumentClient(ctx, inst)
	if err != nil {
		return &domain.ConnectionTestResult{OK: false, LatencyMs: time.Since(start).Milliseconds(), Error: err.Error()}
	}
	if err := client.Ping(ctx, nil); err != nil {
		return &domain.ConnectionTestResult{OK: false, LatencyMs: time.Since(start).Milliseconds(), Error: err.Error()}
	}
	return &domain.ConnectionTestResult{OK: true, LatencyMs: time.Since(start).Milliseconds()}
}

// drainCursor reads every remaining document. The row cap is already applied
// at the cursor level, so this never reads more than MaxRows documents.
func drainCursor(ctx context.Context, cursor *mongo.Cursor) ([]bson.M, error) {
	defer cursor.Close(ctx) //nolint:errcheck
	docs := []bson.M{}
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	return docs, nil
}

// argAt returns the positional argument or nil when absent.
func argAt(args []any, i int) any {
	if i < len(args) {
		return args[i]
	}
	return nil
}

// filterArg returns the positional filter argument, defaulting to an empty
// filter when absent.
func filterArg(args []any, i int) any {
	if v := argAt(args, i); v != nil {
		return v
	}
	return bson.M{}
}

// documentExecError converts a driver error into the engine taxonomy,
// carrying the server's native error code and name when available.
func documentExecError(op string, err error) error {
	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) {
		return &domain.QueryExecutionError{
			Message: fmt.Sprintf("%s: %s", op, cmdErr.Message),
			Code:    fmt.Sprintf("%d", cmdErr.Code),
			Detail:  cmdErr.Name,
		}
	}
	var writeErr mongo.WriteException
	if errors.As(err, &writeErr) && len(writeErr.WriteErrors) > 0 {
		we := writeErr.WriteErrors[0]
		return &domain.QueryExecutionError{
			Message: fmt.Sprintf("%s: %s", op, we.Message),
			Code:    fmt.Sprintf("%d", we.Code),
		}
	}
	return domain.ErrQueryExecution("%s: %v", op, err)
}
