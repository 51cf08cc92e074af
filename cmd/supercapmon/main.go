package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/robotalks/supercap.go/pkg/comm/mqtt"
	telemetry "github.com/robotalks/supercap.go/pkg/telemetry/mqtt"
)

var (
	mqttURL    = "tcp://localhost:1883/supercap/"
	outputJSON bool
)

func init() {
	if val := os.Getenv("SUPERCAP_MQTT_URL"); val != "" {
		mqttURL = val
	}
	flag.StringVar(&mqttURL, "mqtt", mqttURL, "MQTT broker URL.")
	flag.BoolVar(&outputJSON, "json", outputJSON, "Print telemetry in JSON.")
}

func main() {
	flag.Parse()
	log.SetFlags(log.Lmicroseconds)

	q, err := mqtt.NewQueueFromURL(mqttURL, "supercapmon")
	if err != nil {
		log.Fatalln(err)
	}
	if err := q.Connect(); err != nil {
		log.Fatalln(err)
	}

	q.Sub(telemetry.TopicState, mqtt.Handler(func(topic string, payload []byte) {
		log.Printf("%s: %s", topic, string(payload))
	}))
	q.Sub(telemetry.TopicTelemetry, mqtt.Handler(func(topic string, payload []byte) {
		rec, err := telemetry.Unmarshal(payload)
		if err != nil {
			log.Printf("%s: bad message: %v", topic, err)
			return
		}
		if outputJSON {
			out, _ := json.Marshal(rec)
			log.Printf("%s: %s", topic, out)
			return
		}
		line := fmt.Sprintf("[%s] chassis %.2fW", rec.Format, rec.ChassisPower)
		if rec.RefereePower != nil {
			line += fmt.Sprintf(" referee %.2fW", *rec.RefereePower)
		}
		line += fmt.Sprintf(" limit %dW energy %d, power stage on: %v, limit: %s, error: %s",
			rec.ChassisPowerLimit, rec.CapEnergy, rec.PowerStageOn, rec.LimitReason, rec.ErrorLevel)
		if rec.WirelessCharging != "" {
			line += ", wireless: " + rec.WirelessCharging
		}
		log.Printf("%s: %s", topic, line)
	}))
	<-(chan struct{})(nil)
}
