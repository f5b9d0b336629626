package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	appgrpc "github.com/CoolE88/mission-telemetry-service/internal/grpc"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func main() {
	client, err := appgrpc.Dial("localhost:9090")
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer func() {
		if err := client.Close(); err != nil {
			log.Printf("Failed to close connection: %v", err)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Тест 1: старт миссии
	fmt.Println("=== Test 1: StartMission ===")
	missionID := testStartMission(ctx, client)
	if missionID == "" {
		return
	}

	// Тест 2: поток телеметрии
	fmt.Println("\n=== Test 2: SubscribeTelemetry ===")
	testSubscribe(ctx, client, missionID, 5)

	// Тест 3: завершение и история
	fmt.Println("\n=== Test 3: EndMission ===")
	testEndMission(ctx, client, missionID)

	// Тест 4: ошибки
	fmt.Println("\n=== Test 4: Errors ===")
	testErrors(ctx, client, missionID)
}

func printError(err error) {
	if st, ok := status.FromError(err); ok {
		log.Printf("gRPC error: %s (code: %s)", st.Message(), st.Code())
	} else {
		log.Printf("Error: %v", err)
	}
}

func testStartMission(ctx context.Context, client *appgrpc.Client) string {
	resp, err := client.StartMission(ctx)
	if err != nil {
		printError(err)
		return ""
	}

	fmt.Printf("Started mission %s at %s\n", resp.Mission.ID, resp.Mission.StartTime.Format(time.RFC3339))
	return resp.Mission.ID
}

func testSubscribe(ctx context.Context, client *appgrpc.Client, missionID string, samples int) {
	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sub, err := client.SubscribeTelemetry(streamCtx, missionID)
	if err != nil {
		printError(err)
		return
	}

	for received := 0; received < samples; {
		ev, err := sub.Recv()
		if errors.Is(err, io.EOF) {
			fmt.Println("Stream closed by server")
			return
		}
		if err != nil {
			printError(err)
			return
		}

		if ev.Type != "telemetry" || ev.Data == nil {
			fmt.Printf("Event: %s\n", ev.Type)
			continue
		}
		received++
		fmt.Printf("%d. battery=%.1f lat=%.6f lon=%.6f alt=%.1f\n",
			received, ev.Data.Battery, ev.Data.Latitude, ev.Data.Longitude, ev.Data.Altitude)
	}
}

func testEndMission(ctx context.Context, client *appgrpc.Client, missionID string) {
	resp, err := client.EndMission(ctx, missionID)
	if err != nil {
		printError(err)
		return
	}
	fmt.Printf("Mission %s is %s, flight time %ds\n", resp.Mission.ID, resp.Mission.Status, resp.Mission.TotalFlightTime)

	history, err := client.GetTelemetry(ctx, missionID, 3)
	if err != nil {
		printError(err)
		return
	}
	fmt.Printf("Last %d samples:\n", history.Count)
	for i, s := range history.Telemetry {
		fmt.Printf("%d. %s battery=%.1f\n", i+1, s.Timestamp.Format(time.RFC3339), s.Battery)
	}
}

func testErrors(ctx context.Context, client *appgrpc.Client, missionID string) {
	fmt.Println("Testing second end of the same mission...")
	if _, err := client.EndMission(ctx, missionID); err != nil {
		if st, ok := status.FromError(err); ok {
			fmt.Printf("Expected error: %s (code: %s)\n", st.Message(), st.Code())
		}
	}

	fmt.Println("Testing unknown mission...")
	if _, err := client.GetMission(ctx, "MISSION_0_unknown"); err != nil {
		if status.Code(err) == codes.NotFound {
			fmt.Println("Mission MISSION_0_unknown not found")
		} else {
			printError(err)
		}
	}

	fmt.Println("Testing empty mission ID...")
	if _, err := client.GetMission(ctx, ""); err != nil {
		if st, ok := status.FromError(err); ok {
			fmt.Printf("Expected error: %s (code: %s)\n", st.Message(), st.Code())
		}
	}
}
