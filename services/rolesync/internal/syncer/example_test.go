package syncer_test

import (
	"context"
	"fmt"

	"github.com/rolebridge/pkg/config"
	"github.com/rolebridge/pkg/database"
	"github.com/rolebridge/pkg/logger"
	"github.com/rolebridge/services/rolesync/internal/destination"
	"github.com/rolebridge/services/rolesync/internal/model"
	"github.com/rolebridge/services/rolesync/internal/rolemap"
	"github.com/rolebridge/services/rolesync/internal/syncer"
	"github.com/rolebridge/services/rolesync/internal/syncevent"
)

// ExampleService_SyncRoleToOtherApp 展示入队、处理完成后查询同步状态的流程
func ExampleService_SyncRoleToOtherApp() {
	ctx := context.Background()

	// 内存数据库
	db, err := database.Open(&config.DatabaseConfig{Driver: "sqlite"}, logger.Nop())
	if err != nil {
		panic(err)
	}
	defer database.Close(db)
	if err := db.AutoMigrate(model.All()...); err != nil {
		panic(err)
	}

	events := syncevent.NewGormStore(db, syncevent.WithLogger(logger.Nop()))
	dest := destination.NewGormStore(db, destination.NewResolver(config.ConflictHierarchyBased))

	// 单进程部署不需要跨进程认领
	processor := syncer.NewProcessor(events, nil, syncer.Options{NodeID: "node-1"}, logger.Nop())
	syncer.NewHandlers(dest, nil).Register(processor)

	cfg := config.DefaultSyncConfig()
	cfg.EnableRealTimeSync = false
	svc, err := syncer.NewService(syncer.Deps{
		Events:      events,
		Destination: dest,
		Processor:   processor,
	}, cfg, logger.Nop())
	if err != nil {
		panic(err)
	}
	defer svc.Stop()

	res, err := svc.SyncRoleToOtherApp(ctx, syncer.AssignRequest{
		UserID:     "u1",
		ProjectID:  "p1",
		SourceRole: "MEMBER",
		Tier:       rolemap.TierPro,
		AssignedBy: "u-admin",
	})
	if err != nil {
		panic(err)
	}
	fmt.Println(res.Event.SourceApp, "->", res.Event.TargetApp, res.Mapping.TargetRole)

	// 等待队列处理完成
	processor.Wait()

	history, err := svc.GetSyncStatus(ctx, "u1", "p1")
	if err != nil {
		panic(err)
	}
	for _, e := range history {
		fmt.Println(e.Type, e.Status)
	}

	rec, err := svc.GetUserRecord(ctx, syncevent.AppB, "u1")
	if err != nil {
		panic(err)
	}
	fmt.Println(rec.Projects["p1"].ResolvedRole, rec.Projects["p1"].Hierarchy)

	// Output:
	// appA -> appB ASSOCIATE_PRODUCER
	// ROLE_ASSIGNED completed
	// ASSOCIATE_PRODUCER 60
}
